package gateway

import (
	"encoding/json"
	"time"
)

// MessageType identifies what a pushed message carries
type MessageType string

const (
	MessageTypeStage  MessageType = "stage"
	MessageTypeRecord MessageType = "record"
)

// StreamMessage is the envelope pushed to display clients
type StreamMessage struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func newStreamMessage(t MessageType, data any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(StreamMessage{Type: t, Timestamp: now.UTC(), Data: raw})
}
