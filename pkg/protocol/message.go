// Package protocol defines the JSON envelope pushed to websocket clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of websocket message.
type MessageType string

const (
	// TypeDetection carries one inference result.
	TypeDetection MessageType = "detection"
)

// Message is the wrapper for every JSON websocket message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s: %w", msgType, err)
		}
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      raw,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON encoding of m.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	return &msg, nil
}

// DetectionData is the payload of TypeDetection.
type DetectionData struct {
	Seq         uint64  `json:"seq"`
	Present     bool    `json:"present"`
	Score       int8    `json:"score"`
	Complement  int8    `json:"complement"`
	Probability float32 `json:"probability"`
	CapturedAt  int64   `json:"captured_at"` // Unix milliseconds
}

// NewDetectionMessage wraps d.
func NewDetectionMessage(d DetectionData) (*Message, error) {
	return NewMessage(TypeDetection, d)
}
