package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// EventKind identifies what the peripheral reported
type EventKind int

const (
	EventTick EventKind = iota + 1
	EventFinish
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Event is a typed peripheral message
type Event struct {
	Kind   EventKind
	Count  int    // countdown value for ticks (3, 2, 1)
	TimeUS uint64 // reaction time for finishes
}

// Tick builds a countdown event
func Tick(n int) Event {
	return Event{Kind: EventTick, Count: n}
}

// Finish builds a finish event
func Finish(timeUS uint64) Event {
	return Event{Kind: EventFinish, TimeUS: timeUS}
}

// MaxTimeUS is the largest reaction time accepted from the peripheral. It
// keeps every stored time representable as a signed 64-bit integer.
const MaxTimeUS = math.MaxInt64

type finishPayload struct {
	TimeUS json.RawMessage `json:"time_us"`
}

// ParseLine turns one line from the peripheral into an event.
// Anything that is not a countdown digit or a single finish object is rejected.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)

	switch line {
	case "1", "2", "3":
		return Tick(int(line[0] - '0')), true
	}

	if !strings.HasPrefix(line, "{") {
		return Event{}, false
	}

	// Unmarshal rejects trailing data after the object
	var payload finishPayload
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return Event{}, false
	}

	// only a bare JSON number counts; strings, null and nested values do not
	raw := payload.TimeUS
	if len(raw) == 0 || raw[0] < '0' || raw[0] > '9' {
		return Event{}, false
	}

	timeUS, ok := parseMicros(json.Number(raw))
	if !ok {
		return Event{}, false
	}
	return Finish(timeUS), true
}

func parseMicros(n json.Number) (uint64, bool) {
	if v, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return v, v <= MaxTimeUS
	}
	// some firmware prints integral floats ("123456.0")
	f, err := n.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) || f >= MaxTimeUS {
		return 0, false
	}
	return uint64(f), true
}
