package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrDisconnected is returned when the peripheral channel is not usable
var ErrDisconnected = errors.New("peripheral disconnected")

// Line outcomes reported to the metrics collector
const (
	OutcomeTick      = "tick"
	OutcomeFinish    = "finish"
	OutcomeMalformed = "malformed"
	OutcomePaused    = "paused"
	OutcomeOverflow  = "overflow"
)

// Config holds ingestion settings
type Config struct {
	ReconnectInterval time.Duration
	ArmByte           byte
	MaxLineLength     int
}

// DefaultConfig returns the default ingestion configuration
func DefaultConfig() Config {
	return Config{
		ReconnectInterval: 2 * time.Second,
		ArmByte:           'A',
		MaxLineLength:     1024,
	}
}

// MetricsCollector records ingestion activity
type MetricsCollector interface {
	RecordLine(outcome string)
	RecordConnect(success bool)
	RecordArm(success bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordLine(string) {}
func (noopMetrics) RecordConnect(bool) {}
func (noopMetrics) RecordArm(bool) {}

// Ingestor reads newline-terminated messages from the peripheral and turns them
// into events. Next is meant to be called from a single goroutine; Pause, Resume
// and SendArm are safe to call from anywhere.
type Ingestor struct {
	opener  Opener
	cfg     Config
	clock   clockwork.Clock
	metrics MetricsCollector

	paused atomic.Bool

	mu   sync.Mutex
	port Port
	// set when a write killed the channel; the reader must back off before reopening
	degraded bool

	// owned by the goroutine calling Next
	buf   []byte
	chunk []byte
}

// NewIngestor creates an ingestor. The channel is opened lazily by the first Next.
func NewIngestor(opener Opener, cfg Config) *Ingestor {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultConfig().ReconnectInterval
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = DefaultConfig().MaxLineLength
	}
	return &Ingestor{
		opener:  opener,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		metrics: noopMetrics{},
		chunk:   make([]byte, 256),
	}
}

// WithClock replaces the clock used for reconnect sleeps
func (in *Ingestor) WithClock(clock clockwork.Clock) *Ingestor {
	in.clock = clock
	return in
}

// WithMetrics attaches a metrics collector
func (in *Ingestor) WithMetrics(m MetricsCollector) *Ingestor {
	if m != nil {
		in.metrics = m
	}
	return in
}

// Pause makes the reader discard every line until Resume
func (in *Ingestor) Pause() {
	if !in.paused.Swap(true) {
		log.Debug().Msg("ingestion paused")
	}
}

// Resume lets lines through again
func (in *Ingestor) Resume() {
	if in.paused.Swap(false) {
		log.Debug().Msg("ingestion resumed")
	}
}

// Paused reports whether lines are currently discarded
func (in *Ingestor) Paused() bool {
	return in.paused.Load()
}

// Connected reports whether a channel to the peripheral is open
func (in *Ingestor) Connected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.port != nil
}

// Next blocks until the peripheral produces a valid event or ctx is done.
// Transport failures never surface here: the channel is reopened every
// ReconnectInterval until it works again. The only error is ctx.Err().
func (in *Ingestor) Next(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, in.interrupt)
	defer stop()

	for {
		line, err := in.readLine(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			in.drop(err)
			if err := in.connect(ctx, true); err != nil {
				return Event{}, err
			}
			continue
		}

		if in.paused.Load() {
			in.metrics.RecordLine(OutcomePaused)
			log.Debug().Str("line", line).Msg("discarding line while paused")
			continue
		}

		ev, ok := ParseLine(line)
		if !ok {
			in.metrics.RecordLine(OutcomeMalformed)
			log.Debug().Str("line", line).Msg("dropping unrecognized line")
			continue
		}

		if ev.Kind == EventTick {
			in.metrics.RecordLine(OutcomeTick)
		} else {
			in.metrics.RecordLine(OutcomeFinish)
		}
		return ev, nil
	}
}

// SendArm writes the arm byte. A failed write closes the channel so the reader
// goes through the reconnect path.
func (in *Ingestor) SendArm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.port == nil {
		in.metrics.RecordArm(false)
		return ErrDisconnected
	}

	if _, err := in.port.Write([]byte{in.cfg.ArmByte}); err != nil {
		_ = in.port.Close()
		in.port = nil
		in.degraded = true
		in.metrics.RecordArm(false)
		log.Warn().Err(err).Str("peripheral", in.opener.String()).Msg("arm signal failed, channel degraded")
		return fmt.Errorf("%w: write arm signal: %v", ErrDisconnected, err)
	}

	in.metrics.RecordArm(true)
	log.Info().Str("peripheral", in.opener.String()).Msg("arm signal sent")
	return nil
}

// Close releases the channel
func (in *Ingestor) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.port == nil {
		return nil
	}
	err := in.port.Close()
	in.port = nil
	return err
}

func (in *Ingestor) readLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(in.buf, '\n'); i >= 0 {
			line := strings.ToValidUTF8(string(in.buf[:i]), "")
			in.buf = append(in.buf[:0], in.buf[i+1:]...)
			return line, nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		port, err := in.currentPort(ctx)
		if err != nil {
			return "", err
		}

		n, err := port.Read(in.chunk)
		if n > 0 {
			in.buf = append(in.buf, in.chunk[:n]...)
			if len(in.buf) > in.cfg.MaxLineLength && bytes.IndexByte(in.buf, '\n') < 0 {
				in.metrics.RecordLine(OutcomeOverflow)
				log.Debug().Int("bytes", len(in.buf)).Msg("dropping oversized line")
				in.buf = in.buf[:0]
			}
		}
		if err != nil {
			return "", err
		}
	}
}

func (in *Ingestor) currentPort(ctx context.Context) (Port, error) {
	in.mu.Lock()
	port, degraded := in.port, in.degraded
	in.mu.Unlock()
	if port != nil {
		return port, nil
	}
	if degraded {
		return nil, ErrDisconnected
	}

	if err := in.connect(ctx, false); err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.port == nil {
		return nil, ErrDisconnected
	}
	return in.port, nil
}

// connect opens the channel, retrying every ReconnectInterval until it succeeds
// or ctx is done. No retry limit: the peripheral may be plugged back in any time.
func (in *Ingestor) connect(ctx context.Context, waitFirst bool) error {
	wait := waitFirst
	for attempt := 1; ; attempt++ {
		if wait {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-in.clock.After(in.cfg.ReconnectInterval):
			}
		}
		wait = true

		port, err := in.opener.Open(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			in.metrics.RecordConnect(false)
			log.Warn().
				Err(err).
				Str("peripheral", in.opener.String()).
				Int("attempt", attempt).
				Dur("retry_in", in.cfg.ReconnectInterval).
				Msg("failed to open peripheral")
			continue
		}

		in.mu.Lock()
		in.port = port
		in.degraded = false
		in.mu.Unlock()

		// no replay of anything half-read on the old channel
		in.buf = in.buf[:0]

		in.metrics.RecordConnect(true)
		log.Info().
			Str("peripheral", in.opener.String()).
			Int("attempt", attempt).
			Msg("peripheral connected")
		return nil
	}
}

func (in *Ingestor) drop(cause error) {
	in.mu.Lock()
	if in.port != nil {
		_ = in.port.Close()
		in.port = nil
	}
	in.mu.Unlock()

	log.Warn().
		Err(cause).
		Str("peripheral", in.opener.String()).
		Dur("retry_in", in.cfg.ReconnectInterval).
		Msg("peripheral read failed, reconnecting")
}

func (in *Ingestor) interrupt() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.port != nil {
		_ = in.port.Close()
		in.port = nil
	}
}
