package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/lightsout/go/internal/ingest"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/rs/zerolog/log"
)

// Controller owns the stage. Every read and mutation goes through one lock;
// dwell expiry runs lazily inside whichever call observes the stage first
// after the deadline.
type Controller struct {
	board      Leaderboard
	peripheral Peripheral
	capturer   Capturer
	cfg        Config
	clock      clockwork.Clock
	metrics    MetricsCollector
	observers  []Observer

	mu        sync.Mutex
	stage     Stage
	profile   *Profile
	deadline  time.Time
	arming    bool
	capturing bool
}

// NewController creates a controller in the landing stage
func NewController(board Leaderboard, peripheral Peripheral, capturer Capturer, cfg Config) *Controller {
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultConfig().Dwell
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Controller{
		board:      board,
		peripheral: peripheral,
		capturer:   capturer,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		metrics:    noopMetrics{},
		stage:      Stage{Kind: KindLanding},
	}
}

// WithClock replaces the clock used for dwell deadlines
func (c *Controller) WithClock(clock clockwork.Clock) *Controller {
	c.clock = clock
	return c
}

// WithMetrics attaches a metrics collector
func (c *Controller) WithMetrics(m MetricsCollector) *Controller {
	if m != nil {
		c.metrics = m
	}
	return c
}

// AddObserver registers o for transitions and commits. Call before the
// controller is shared.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Stage returns the current snapshot, reverting an expired result first
func (c *Controller) Stage(ctx context.Context) Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx)
	return c.snapshotLocked()
}

// Leaderboard returns the ranked board
func (c *Controller) Leaderboard() []leaderboard.Entry {
	return c.board.Snapshot()
}

// Register stores the player profile and moves to ready. Allowed from landing,
// and from ready where it replaces the previous registration.
func (c *Controller) Register(ctx context.Context, p Profile) (Stage, error) {
	p, err := validateProfile(p)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.expireLocked(ctx)
		return c.snapshotLocked(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx)

	if c.stage.Kind != KindLanding && c.stage.Kind != KindReady {
		return c.snapshotLocked(), fmt.Errorf("%w: register in %s", ErrInvalidStage, c.stage.Kind)
	}

	c.profile = &p
	c.transitionLocked(Stage{Kind: KindReady, Profile: c.profile})

	log.Info().
		Str("name", p.Name).
		Str("roll", p.Roll).
		Msg("player registered")
	return c.snapshotLocked(), nil
}

// Start arms the peripheral and moves from ready to waiting. The arm byte is
// written without holding the lock; if it fails the stage stays ready.
func (c *Controller) Start(ctx context.Context) (Stage, error) {
	c.mu.Lock()
	c.expireLocked(ctx)
	if c.stage.Kind != KindReady {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, fmt.Errorf("%w: start in %s", ErrInvalidStage, st.Kind)
	}
	if c.arming {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, fmt.Errorf("%w: arm already in progress", ErrInvalidStage)
	}
	c.arming = true
	c.mu.Unlock()

	armErr := c.peripheral.SendArm(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.arming = false
	c.expireLocked(ctx)

	if armErr != nil {
		log.Warn().Err(armErr).Msg("failed to arm peripheral")
		return c.snapshotLocked(), fmt.Errorf("arm peripheral: %w", armErr)
	}

	// a tick may have raced ahead of us; never move backwards from countdown
	if c.stage.Kind == KindReady {
		c.transitionLocked(Stage{Kind: KindWaiting, Profile: c.profile})
	}
	return c.snapshotLocked(), nil
}

// HandleEvent applies a peripheral event. Events that do not fit the current
// stage are dropped.
func (c *Controller) HandleEvent(ctx context.Context, ev ingest.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx)

	switch ev.Kind {
	case ingest.EventTick:
		switch c.stage.Kind {
		case KindReady, KindWaiting, KindCountdown:
			c.transitionLocked(Stage{Kind: KindCountdown, Count: ev.Count, Profile: c.profile})
			return
		}

	case ingest.EventFinish:
		if c.stage.Kind == KindCountdown {
			c.finishLocked(ev.TimeUS)
			return
		}
	}

	c.metrics.RecordDroppedEvent(ev.Kind.String(), c.stage.Kind)
	log.Debug().
		Str("event", ev.Kind.String()).
		Str("stage", string(c.stage.Kind)).
		Msg("dropping event not valid in current stage")
}

// finishLocked decides between result and new record. Admission is evaluated
// once, before anything changes.
func (c *Controller) finishLocked(timeUS uint64) {
	now := c.clock.Now()
	display := float64(timeUS) / 1000.0
	c.deadline = now.Add(c.cfg.Dwell)

	if !c.board.QueryAdmits(timeUS) {
		c.transitionLocked(Stage{Kind: KindResult, Value: display, Profile: c.profile})
		return
	}

	pending := leaderboard.Entry{
		TimeUS:    timeUS,
		Timestamp: now.UTC(),
	}
	if c.profile != nil {
		pending.Name = c.profile.Name
		pending.Roll = c.profile.Roll
	}
	c.transitionLocked(Stage{Kind: KindNewRecord, Value: display, Profile: c.profile, Pending: &pending})
}

// Decide routes a photo decision
func (c *Controller) Decide(ctx context.Context, d Decision) (Stage, error) {
	switch d {
	case DecisionConfirm:
		return c.ConfirmPhoto(ctx)
	case DecisionSkip:
		return c.SkipPhoto(ctx)
	default:
		return c.Stage(ctx), fmt.Errorf("%w: %q", ErrInvalidDecision, d)
	}
}

// ConfirmPhoto captures a photo and commits the pending record with it. The
// capture runs without the lock; the result is applied only if the same
// record is still pending.
func (c *Controller) ConfirmPhoto(ctx context.Context) (Stage, error) {
	c.mu.Lock()
	c.expireLocked(ctx)
	if c.stage.Kind != KindNewRecord {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrNoPendingRecord
	}
	if c.capturing {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrCaptureInProgress
	}
	c.capturing = true
	version := c.stage.Version
	c.mu.Unlock()

	started := c.clock.Now()
	ref, captureErr := c.capturer.Capture(ctx)
	c.metrics.RecordCapture(c.clock.Since(started), captureErr)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
	c.expireLocked(ctx)

	if captureErr != nil {
		log.Warn().Err(captureErr).Msg("photo capture failed")
		return c.snapshotLocked(), fmt.Errorf("%w: %w", ErrCaptureFailed, captureErr)
	}

	if c.stage.Kind != KindNewRecord || c.stage.Version != version {
		log.Warn().
			Str("photo", ref).
			Str("stage", string(c.stage.Kind)).
			Msg("record resolved during capture, photo discarded")
		return c.snapshotLocked(), ErrNoPendingRecord
	}

	entry := *c.stage.Pending
	entry.Photo = ref
	if _, err := c.commitLocked(ctx, entry, CommitConfirm); err != nil {
		return c.snapshotLocked(), err
	}
	c.transitionLocked(Stage{Kind: KindLanding})
	return c.snapshotLocked(), nil
}

// SkipPhoto commits the pending record with the placeholder photo marker
func (c *Controller) SkipPhoto(ctx context.Context) (Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx)

	if c.stage.Kind != KindNewRecord {
		return c.snapshotLocked(), ErrNoPendingRecord
	}
	if c.capturing {
		return c.snapshotLocked(), ErrCaptureInProgress
	}

	entry := *c.stage.Pending
	entry.Photo = leaderboard.NoPhoto
	if _, err := c.commitLocked(ctx, entry, CommitSkip); err != nil {
		return c.snapshotLocked(), err
	}
	c.transitionLocked(Stage{Kind: KindLanding})
	return c.snapshotLocked(), nil
}

// expireLocked performs the dwell transition back to landing once the deadline
// has passed, committing a pending record with the placeholder photo.
func (c *Controller) expireLocked(ctx context.Context) {
	if !c.stage.Kind.Displaying() || c.clock.Now().Before(c.deadline) {
		return
	}

	if c.stage.Kind == KindNewRecord && c.stage.Pending != nil {
		entry := *c.stage.Pending
		entry.Photo = leaderboard.NoPhoto
		if _, err := c.commitLocked(ctx, entry, CommitExpiry); err != nil {
			log.Error().
				Err(err).
				Uint64("time_us", entry.TimeUS).
				Str("name", entry.Name).
				Msg("failed to commit record on dwell expiry")
		}
	}
	c.transitionLocked(Stage{Kind: KindLanding})
}

// commitLocked persists entry. A cancelled caller must not lose the record
// halfway, so the write ignores ctx cancellation.
func (c *Controller) commitLocked(ctx context.Context, entry leaderboard.Entry, source string) (int, error) {
	rank, err := c.board.Insert(context.WithoutCancel(ctx), entry)
	c.metrics.RecordCommit(source, err)
	if err != nil {
		return 0, fmt.Errorf("commit record: %w", err)
	}

	log.Info().
		Uint64("time_us", entry.TimeUS).
		Str("name", entry.Name).
		Str("photo", entry.Photo).
		Int("rank", rank).
		Str("source", source).
		Msg("record committed")

	for _, o := range c.observers {
		o.RecordCommitted(entry, rank)
	}
	return rank, nil
}

// snapshotLocked copies the stage so callers never share the pending entry
// or profile with the controller
func (c *Controller) snapshotLocked() Stage {
	return c.stage.clone()
}

func (c *Controller) transitionLocked(next Stage) {
	prev := c.stage.Kind
	next.Version = c.stage.Version + 1
	c.stage = next

	// the ingestion gate follows the display
	if next.Kind.Displaying() {
		c.peripheral.Pause()
	} else if prev.Displaying() {
		c.peripheral.Resume()
	}

	c.metrics.RecordTransition(prev, next.Kind)
	log.Info().
		Str("from", string(prev)).
		Str("to", string(next.Kind)).
		Uint64("version", next.Version).
		Msg("stage changed")

	for _, o := range c.observers {
		o.StageChanged(next.clone())
	}
}
