package events

import (
	"time"
)

// StageChangedPayload is the payload for a StageChanged event
type StageChangedPayload struct {
	Stage     string    `json:"stage"`
	Version   uint64    `json:"version"`
	Count     int       `json:"count,omitempty"`
	ValueMS   float64   `json:"value_ms,omitempty"`
	Name      string    `json:"name,omitempty"`
	Roll      string    `json:"roll,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// RecordCommittedPayload is the payload for a RecordCommitted event
type RecordCommittedPayload struct {
	TimeUS     uint64    `json:"time_us"`
	TimeMS     float64   `json:"time_ms"`
	Name       string    `json:"name"`
	Roll       string    `json:"roll"`
	Photo      string    `json:"photo"`
	Rank       int       `json:"rank"`
	RecordedAt time.Time `json:"recorded_at"`
}
