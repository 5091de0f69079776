package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Repository is the durable side of the board. Save must replace the whole
// sequence atomically: readers of the backing storage never see a partial rewrite.
type Repository interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// MetricsCollector records persistence activity
type MetricsCollector interface {
	RecordPersist(duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordPersist(time.Duration, error) {}

// Store keeps the top entries in memory, ordered ascending by time, and keeps the
// repository in sync with every mutation.
type Store struct {
	repo    Repository
	metrics MetricsCollector

	mu      sync.RWMutex
	entries []Entry
}

// NewStore creates an empty store backed by repo. Call Load to read existing entries.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:    repo,
		metrics: noopMetrics{},
	}
}

// WithMetrics attaches a metrics collector
func (s *Store) WithMetrics(m MetricsCollector) *Store {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Load replaces the in-memory board with the repository contents.
// The result is sorted and truncated but not written back.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}

	entries = normalize(entries)

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	log.Info().Int("entries", len(entries)).Msg("leaderboard loaded")
	return nil
}

// QueryAdmits reports whether a time would make the board
func (s *Store) QueryAdmits(timeUS uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return admits(s.entries, timeUS)
}

// Insert adds an entry, persists the resulting board and returns the entry's
// 1-based rank. A rank of 0 means the entry fell off the end of the board.
// On persistence failure the in-memory board is left untouched.
func (s *Store) Insert(ctx context.Context, entry Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// stable sort keeps the new entry behind existing equal times
	rank := 1
	for _, e := range s.entries {
		if e.TimeUS <= entry.TimeUS {
			rank++
		}
	}
	if rank > Capacity {
		rank = 0
	}

	next := make([]Entry, 0, len(s.entries)+1)
	next = append(next, s.entries...)
	next = append(next, entry)
	next = normalize(next)

	start := time.Now()
	err := s.repo.Save(ctx, next)
	s.metrics.RecordPersist(time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to persist leaderboard: %w", err)
	}

	s.entries = next

	log.Debug().
		Uint64("time_us", entry.TimeUS).
		Int("rank", rank).
		Int("size", len(next)).
		Msg("leaderboard entry inserted")

	return rank, nil
}

// Snapshot returns a copy of the board in rank order
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries on the board
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func admits(entries []Entry, timeUS uint64) bool {
	if len(entries) < Capacity {
		return true
	}
	return timeUS < entries[len(entries)-1].TimeUS
}

func normalize(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimeUS < entries[j].TimeUS
	})
	if len(entries) > Capacity {
		entries = entries[:Capacity]
	}
	return entries
}
