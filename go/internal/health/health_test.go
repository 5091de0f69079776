package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type stubPeripheral struct{ connected, paused bool }

func (s stubPeripheral) Connected() bool { return s.connected }
func (s stubPeripheral) Paused() bool { return s.paused }

type stubDispatcher struct {
	published uint64
	last      time.Time
	running   bool
}

func (s stubDispatcher) Stats() (uint64, time.Time) { return s.published, s.last }
func (s stubDispatcher) Running() bool { return s.running }

type stubBroker bool

func (s stubBroker) Connected() bool { return bool(s) }

type stubDisplays int

func (s stubDisplays) Count() int { return int(s) }

func TestChecker_Healthy(t *testing.T) {
	last := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	checker := NewChecker(
		stubPeripheral{connected: true, paused: true},
		stubDispatcher{published: 12, last: last, running: true},
		stubBroker(true),
		stubDisplays(2),
	)

	status := checker.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.IngestionPaused)
	assert.Equal(t, uint64(12), status.EventsPublished)
	assert.Equal(t, last, status.LastEventTime)
	require.NotNil(t, status.BrokerConnected)
	assert.True(t, *status.BrokerConnected)
	assert.Equal(t, 2, status.DisplayConnections)
	assert.Empty(t, status.Errors)
}

func TestChecker_CollectsEveryProblem(t *testing.T) {
	checker := NewChecker(stubPeripheral{}, stubDispatcher{}, stubBroker(false), nil)

	status := checker.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, []string{
		"peripheral disconnected",
		"event dispatcher not running",
		"NATS disconnected",
	}, status.Errors)
}

func TestChecker_ServeHTTP(t *testing.T) {
	t.Run("healthy without broker", func(t *testing.T) {
		checker := NewChecker(stubPeripheral{connected: true}, stubDispatcher{running: true}, nil, nil)
		rec := httptest.NewRecorder()
		checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/details", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["healthy"])
		assert.NotContains(t, body, "broker_connected")
	})

	t.Run("unhealthy", func(t *testing.T) {
		checker := NewChecker(stubPeripheral{}, stubDispatcher{running: true}, nil, nil)
		rec := httptest.NewRecorder()
		checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/details", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var status Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.False(t, status.PeripheralConnected)
	})
}
