package ingest

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{name: "tick three", line: "3", want: Tick(3), ok: true},
		{name: "tick two", line: "2", want: Tick(2), ok: true},
		{name: "tick one with crlf", line: "1\r", want: Tick(1), ok: true},
		{name: "tick with padding", line: "  2  ", want: Tick(2), ok: true},
		{name: "finish", line: `{"time_us": 123456}`, want: Finish(123456), ok: true},
		{name: "finish compact", line: `{"time_us":98765}`, want: Finish(98765), ok: true},
		{name: "finish with extra fields", line: `{"time_us": 5000, "lane": 1}`, want: Finish(5000), ok: true},
		{name: "finish integral float", line: `{"time_us": 150000.0}`, want: Finish(150000), ok: true},
		{name: "finish zero", line: `{"time_us": 0}`, want: Finish(0), ok: true},
		{name: "finish max", line: `{"time_us": 9223372036854775807}`, want: Finish(MaxTimeUS), ok: true},
		{name: "finish exponent", line: `{"time_us": 1.5e5}`, want: Finish(150000), ok: true},

		{name: "empty", line: ""},
		{name: "zero digit", line: "0"},
		{name: "four", line: "4"},
		{name: "two digits", line: "12"},
		{name: "garbage", line: "hello"},
		{name: "missing time", line: `{"lane": 1}`},
		{name: "negative", line: `{"time_us": -5}`},
		{name: "fractional", line: `{"time_us": 12.5}`},
		{name: "string time", line: `{"time_us": "123"}`},
		{name: "null time", line: `{"time_us": null}`},
		{name: "truncated json", line: `{"time_us": 12`},
		{name: "array", line: `[1,2,3]`},
		{name: "above signed range", line: `{"time_us": 9223372036854775808}`},
		{name: "max uint64", line: `{"time_us": 18446744073709551615}`},
		{name: "overflow", line: `{"time_us": 18446744073709551616}`},
		{name: "quoted time", line: `{"time_us":"123456"}`},
		{name: "boolean time", line: `{"time_us": true}`},
		{name: "nested time", line: `{"time_us": {"value": 5}}`},
		{name: "second object", line: `{"time_us":5}{"x":1}`},
		{name: "trailing junk", line: `{"time_us":5} junk }`},
		{name: "trailing comma", line: `{"time_us":5},`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "tick", EventTick.String())
	assert.Equal(t, "finish", EventFinish.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
