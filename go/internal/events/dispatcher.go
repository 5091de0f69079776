package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/mcdev12/lightsout/go/internal/session"
	"github.com/rs/zerolog/log"
)

type DispatcherConfig struct {
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize: 256,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// MetricsCollector records event delivery
type MetricsCollector interface {
	RecordPublish(eventType string, success bool, duration time.Duration)
	RecordDropped(eventType string)
}

type noopMetrics struct{}

func (noopMetrics) RecordPublish(string, bool, time.Duration) {}
func (noopMetrics) RecordDropped(string) {}

// Dispatcher turns controller notifications into events and publishes them
// from its own goroutine. Enqueueing never blocks: when the buffer is full the
// event is dropped.
type Dispatcher struct {
	publisher Publisher
	config    DispatcherConfig
	clock     clockwork.Clock
	metrics   MetricsCollector

	queue chan Event

	mu            sync.Mutex
	running       bool
	published     uint64
	lastPublished time.Time
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

var _ session.Observer = (*Dispatcher)(nil)

func NewDispatcher(publisher Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	return &Dispatcher{
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		metrics:   noopMetrics{},
		queue:     make(chan Event, cfg.BufferSize),
		stopChan:  make(chan struct{}),
	}
}

func (d *Dispatcher) WithClock(clock clockwork.Clock) *Dispatcher {
	d.clock = clock
	return d
}

func (d *Dispatcher) WithMetrics(m MetricsCollector) *Dispatcher {
	if m != nil {
		d.metrics = m
	}
	return d
}

// StageChanged implements session.Observer
func (d *Dispatcher) StageChanged(stage session.Stage) {
	payload := StageChangedPayload{
		Stage:     string(stage.Kind),
		Version:   stage.Version,
		Count:     stage.Count,
		ValueMS:   stage.Value,
		ChangedAt: d.clock.Now().UTC(),
	}
	if stage.Profile != nil {
		payload.Name = stage.Profile.Name
		payload.Roll = stage.Profile.Roll
	}
	d.enqueue(EventTypeStageChanged, payload)
}

// RecordCommitted implements session.Observer
func (d *Dispatcher) RecordCommitted(entry leaderboard.Entry, rank int) {
	d.enqueue(EventTypeRecordCommitted, RecordCommittedPayload{
		TimeUS:     entry.TimeUS,
		TimeMS:     entry.TimeMS(),
		Name:       entry.Name,
		Roll:       entry.Roll,
		Photo:      entry.Photo,
		Rank:       rank,
		RecordedAt: entry.Timestamp,
	})
}

func (d *Dispatcher) enqueue(eventType string, payload any) {
	event, err := NewEvent(eventType, payload, d.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to build event")
		return
	}

	select {
	case d.queue <- event:
	default:
		d.metrics.RecordDropped(eventType)
		log.Warn().
			Str("event_id", event.ID.String()).
			Str("event_type", eventType).
			Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("event dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Info().
		Int("buffer_size", d.config.BufferSize).
		Int("max_retries", d.config.MaxRetries).
		Msg("event dispatcher started")
	return nil
}

// Stop waits for the worker and flushes whatever is still queued with a
// single attempt per event
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("event dispatcher not running")
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	flushed := 0
	for {
		select {
		case event := <-d.queue:
			d.publishOnce(ctx, event)
			flushed++
		default:
			log.Info().Int("flushed", flushed).Msg("event dispatcher stopped")
			return nil
		}
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case event := <-d.queue:
			if err := d.publishWithRetry(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", event.Type).
					Msg("failed to publish event")
			}
		}
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.clock.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := d.publishOnce(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}

func (d *Dispatcher) publishOnce(ctx context.Context, event Event) error {
	start := d.clock.Now()
	err := d.publisher.Publish(ctx, event)
	d.metrics.RecordPublish(event.Type, err == nil, d.clock.Since(start))

	if err == nil {
		d.mu.Lock()
		d.published++
		d.lastPublished = d.clock.Now()
		d.mu.Unlock()
	}
	return err
}

// Stats returns the number of events published and when the last one went out
func (d *Dispatcher) Stats() (uint64, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.published, d.lastPublished
}

// Running reports whether the worker goroutine has been started and not stopped
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
