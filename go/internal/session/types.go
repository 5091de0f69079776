package session

import (
	"context"
	"time"

	"github.com/mcdev12/lightsout/go/internal/ingest"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
)

// Kind names the stage currently on display
type Kind string

const (
	KindLanding   Kind = "landing"
	KindReady     Kind = "ready"
	KindWaiting   Kind = "waiting"
	KindCountdown Kind = "countdown"
	KindResult    Kind = "result"
	KindNewRecord Kind = "new_record"
)

// Displaying reports whether the stage shows a finished race and blocks ingestion
func (k Kind) Displaying() bool {
	return k == KindResult || k == KindNewRecord
}

// Profile is the registered player
type Profile struct {
	Name string `json:"name" validate:"required,max=64,singleline"`
	Roll string `json:"roll" validate:"required,max=32,singleline"`
}

// Stage is an immutable snapshot of what the display shows. Version grows by one
// on every transition so consumers can order snapshots.
type Stage struct {
	Kind    Kind               `json:"type"`
	Version uint64             `json:"version"`
	Count   int                `json:"count,omitempty"`
	Value   float64            `json:"value,omitempty"`
	Profile *Profile           `json:"profile,omitempty"`
	Pending *leaderboard.Entry `json:"pending,omitempty"`
}

func (s Stage) clone() Stage {
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	if s.Pending != nil {
		e := *s.Pending
		s.Pending = &e
	}
	return s
}

// Decision is the answer to the photo prompt on a new record
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionSkip    Decision = "skip"
)

// Commit sources reported to metrics and logs
const (
	CommitConfirm = "confirm"
	CommitSkip    = "skip"
	CommitExpiry  = "expiry"
)

// Config holds session timing
type Config struct {
	Dwell         time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the default session timing
func DefaultConfig() Config {
	return Config{
		Dwell:         4 * time.Second,
		SweepInterval: 250 * time.Millisecond,
	}
}

// Leaderboard is what the controller needs from the ranked store
type Leaderboard interface {
	QueryAdmits(timeUS uint64) bool
	Insert(ctx context.Context, entry leaderboard.Entry) (int, error)
	Snapshot() []leaderboard.Entry
}

// Peripheral is the controller's handle on the ingestion side
type Peripheral interface {
	SendArm(ctx context.Context) error
	Pause()
	Resume()
}

// Capturer takes the photo for a new record and returns its reference
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// EventSource yields peripheral events. It blocks until an event arrives or ctx is done.
type EventSource interface {
	Next(ctx context.Context) (ingest.Event, error)
}

// Observer is told about every transition and commit. Calls happen with the
// controller lock held, in order, so implementations must not block or call
// back into the controller.
type Observer interface {
	StageChanged(stage Stage)
	RecordCommitted(entry leaderboard.Entry, rank int)
}

// MetricsCollector records session activity
type MetricsCollector interface {
	RecordTransition(from, to Kind)
	RecordCommit(source string, err error)
	RecordDroppedEvent(event string, stage Kind)
	RecordCapture(duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(Kind, Kind) {}
func (noopMetrics) RecordCommit(string, error) {}
func (noopMetrics) RecordDroppedEvent(string, Kind) {}
func (noopMetrics) RecordCapture(time.Duration, error) {}
