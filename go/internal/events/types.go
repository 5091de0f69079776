package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeStageChanged    = "StageChanged"
	EventTypeRecordCommitted = "RecordCommitted"
)

// Event is a domain event ready to publish
type Event struct {
	ID        uuid.UUID       `json:"event_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent marshals payload into a fresh event
func NewEvent(eventType string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   data,
		CreatedAt: now.UTC(),
	}, nil
}

// Publisher delivers events to the outside world
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
