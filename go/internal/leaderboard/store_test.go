package leaderboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func entryAt(timeUS uint64, name string) Entry {
	return Entry{
		TimeUS:    timeUS,
		Name:      name,
		Roll:      "R-" + name,
		Timestamp: baseTime.Add(time.Duration(timeUS) * time.Second),
		Photo:     NoPhoto,
	}
}

func fullBoard() []Entry {
	entries := make([]Entry, 0, Capacity)
	for i := 1; i <= Capacity; i++ {
		entries = append(entries, entryAt(uint64(i*10), fmt.Sprintf("p%d", i)))
	}
	return entries
}

func loadedStore(t *testing.T, repo Repository) *Store {
	t.Helper()
	s := NewStore(repo)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func assertSortedAndBounded(t *testing.T, entries []Entry) {
	t.Helper()
	assert.LessOrEqual(t, len(entries), Capacity)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].TimeUS, entries[i].TimeUS, "entries out of order at %d", i)
	}
}

func TestStore_AdmissionRule(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(fullBoard()...)
	s := loadedStore(t, repo)

	t.Run("faster than slowest is admitted and evicts it", func(t *testing.T) {
		require.True(t, s.QueryAdmits(95))

		rank, err := s.Insert(ctx, entryAt(95, "fast"))
		require.NoError(t, err)
		assert.Equal(t, 10, rank)

		snap := s.Snapshot()
		require.Len(t, snap, Capacity)
		assert.Equal(t, uint64(95), snap[Capacity-1].TimeUS)
		for _, e := range snap {
			assert.NotEqual(t, uint64(100), e.TimeUS)
		}
		assertSortedAndBounded(t, snap)
	})

	t.Run("slower than slowest is rejected and board unchanged", func(t *testing.T) {
		before := s.Snapshot()
		saves := repo.Saves()

		assert.False(t, s.QueryAdmits(150))
		assert.Equal(t, before, s.Snapshot())
		assert.Equal(t, saves, repo.Saves())
	})

	t.Run("tie with slowest is rejected", func(t *testing.T) {
		assert.False(t, s.QueryAdmits(95))
	})
}

func TestStore_AdmitsWhenNotFull(t *testing.T) {
	s := loadedStore(t, NewMemoryRepository(entryAt(10, "a")))
	assert.True(t, s.QueryAdmits(1_000_000))
}

func TestStore_InsertReturnsRank(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, NewMemoryRepository())

	rank, err := s.Insert(ctx, entryAt(300, "c"))
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = s.Insert(ctx, entryAt(100, "a"))
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	rank, err = s.Insert(ctx, entryAt(200, "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	// equal time ranks behind the existing entry
	rank, err = s.Insert(ctx, entryAt(200, "b2"))
	require.NoError(t, err)
	assert.Equal(t, 3, rank)

	snap := s.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, []string{"a", "b", "b2", "c"}, []string{snap[0].Name, snap[1].Name, snap[2].Name, snap[3].Name})
}

func TestStore_InsertPastCapacityTruncates(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, NewMemoryRepository(fullBoard()...))

	rank, err := s.Insert(ctx, entryAt(500, "slow"))
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
	assert.Equal(t, fullBoard(), s.Snapshot())
}

func TestStore_PersistFailureLeavesBoardUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(fullBoard()...)
	s := loadedStore(t, repo)
	repo.FailSaves(errors.New("disk full"))

	_, err := s.Insert(ctx, entryAt(5, "lost"))
	require.Error(t, err)
	assert.Equal(t, fullBoard(), s.Snapshot())

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, fullBoard(), stored)
}

func TestStore_LoadSortsAndTruncatesWithoutSaving(t *testing.T) {
	entries := fullBoard()
	entries = append(entries, entryAt(1, "first"), entryAt(1000, "last"))
	// reverse to make sure Load sorts
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	repo := NewMemoryRepository(entries...)

	s := loadedStore(t, repo)

	snap := s.Snapshot()
	require.Len(t, snap, Capacity)
	assert.Equal(t, "first", snap[0].Name)
	assertSortedAndBounded(t, snap)
	assert.Equal(t, 0, repo.Saves())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := loadedStore(t, NewMemoryRepository(fullBoard()...))

	snap := s.Snapshot()
	snap[0].Name = "mutated"

	assert.Equal(t, "p1", s.Snapshot()[0].Name)
}

func TestStore_ConcurrentInsertsStaySortedAndBounded(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, NewMemoryRepository())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Insert(ctx, entryAt(uint64((i*37)%101+1), fmt.Sprintf("w%d", i)))
			assert.NoError(t, err)
			assertSortedAndBounded(t, s.Snapshot())
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap, Capacity)
	assertSortedAndBounded(t, snap)
}

func TestRanked(t *testing.T) {
	ranked := Ranked([]Entry{entryAt(1234, "a"), entryAt(5678, "b")})
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 2, ranked[1].Rank)
	assert.InDelta(t, 1.234, ranked[0].DisplayMS, 1e-9)
	assert.Equal(t, "b", ranked[1].Name)
}

func TestStore_InsertLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	s := loadedStore(t, NewMemoryRepository())

	// commits are announced once by the session; the store stays quiet at info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	_, err := s.Insert(context.Background(), entryAt(100, "a"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	_, err = s.Insert(context.Background(), entryAt(50, "b"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "leaderboard entry inserted")
}
