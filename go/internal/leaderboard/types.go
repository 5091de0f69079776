package leaderboard

import (
	"time"
)

// Capacity is the number of entries kept on the board
const Capacity = 10

// NoPhoto is the placeholder photo marker stored when a record is committed without a capture
const NoPhoto = "none"

// Entry is a single ranked reaction time. Entries are immutable once persisted.
type Entry struct {
	TimeUS    uint64    `json:"time_us"`
	Name      string    `json:"name"`
	Roll      string    `json:"roll"`
	Timestamp time.Time `json:"timestamp"`
	Photo     string    `json:"photo,omitempty"`
}

// TimeMS returns the reaction time in milliseconds, the unit shown on the display
func (e Entry) TimeMS() float64 {
	return float64(e.TimeUS) / 1000.0
}

// HasPhoto reports whether the entry carries a real photo reference
func (e Entry) HasPhoto() bool {
	return e.Photo != "" && e.Photo != NoPhoto
}

// RankedEntry pairs an entry with its 1-based position on the board
type RankedEntry struct {
	Rank int `json:"rank"`
	Entry
	DisplayMS float64 `json:"time_ms"`
}

// Ranked decorates a snapshot with ranks and display times
func Ranked(entries []Entry) []RankedEntry {
	out := make([]RankedEntry, len(entries))
	for i, e := range entries {
		out[i] = RankedEntry{Rank: i + 1, Entry: e, DisplayMS: e.TimeMS()}
	}
	return out
}
