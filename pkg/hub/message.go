// Package hub fans frames and detections out to websocket clients over a
// single channel-driven loop.
package hub

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded message.
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data such as a JPEG frame.
	BinaryMessage
)

// Message is one payload queued for every client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message. data is copied because frame
// buffers go back to the driver before the write happens.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: append([]byte(nil), data...)}
}
