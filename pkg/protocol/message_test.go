package protocol

import (
	"testing"
)

func TestDetectionMessage(t *testing.T) {
	msg, err := NewDetectionMessage(DetectionData{Seq: 4, Present: true, Score: 90, Complement: -90, Probability: 0.85})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeDetection || msg.Timestamp == 0 {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	var d DetectionData
	if err := parsed.ParseData(&d); err != nil {
		t.Fatal(err)
	}
	if d.Seq != 4 || !d.Present || d.Score != 90 || d.Complement != -90 {
		t.Errorf("payload mismatch %+v", d)
	}
}

func TestNewMessage_NilData(t *testing.T) {
	msg, err := NewMessage(TypeDetection, nil)
	if err != nil {
		t.Fatal(err)
	}
	var d DetectionData
	if err := msg.ParseData(&d); err != nil {
		t.Errorf("ParseData on empty message: %v", err)
	}
}

func TestNewMessage_MarshalError(t *testing.T) {
	if _, err := NewMessage(TypeDetection, make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}
