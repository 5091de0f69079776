package leaderboard

import (
	"context"
	"sync"
)

// MemoryRepository keeps the board in process memory. Useful for demos and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
	saveErr error
}

// NewMemoryRepository creates a repository seeded with entries
func NewMemoryRepository(entries ...Entry) *MemoryRepository {
	return &MemoryRepository{entries: append([]Entry(nil), entries...)}
}

func (r *MemoryRepository) Load(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...), nil
}

func (r *MemoryRepository) Save(ctx context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.entries = append([]Entry(nil), entries...)
	r.saves++
	return nil
}

// FailSaves makes every following Save return err (nil clears it)
func (r *MemoryRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

// Saves returns how many successful saves happened
func (r *MemoryRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
