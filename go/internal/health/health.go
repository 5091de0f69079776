package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type Status struct {
	Healthy             bool      `json:"healthy"`
	PeripheralConnected bool      `json:"peripheral_connected"`
	IngestionPaused     bool      `json:"ingestion_paused"`
	DispatcherRunning   bool      `json:"dispatcher_running"`
	EventsPublished     uint64    `json:"events_published"`
	LastEventTime       time.Time `json:"last_event_time"`
	BrokerConnected     *bool     `json:"broker_connected,omitempty"`
	DisplayConnections  int       `json:"display_connections"`
	Errors              []string  `json:"errors"`
}

// Peripheral reports the state of the channel to the timing hardware
type Peripheral interface {
	Connected() bool
	Paused() bool
}

// Dispatcher reports event delivery progress
type Dispatcher interface {
	Stats() (uint64, time.Time)
	Running() bool
}

// Broker is implemented by publishers that hold a network connection
type Broker interface {
	Connected() bool
}

// Displays reports how many spectator screens are attached
type Displays interface {
	Count() int
}

type Checker struct {
	peripheral Peripheral
	dispatcher Dispatcher
	broker     Broker
	displays   Displays
}

// NewChecker builds a checker. broker and displays may be nil.
func NewChecker(peripheral Peripheral, dispatcher Dispatcher, broker Broker, displays Displays) *Checker {
	return &Checker{
		peripheral: peripheral,
		dispatcher: dispatcher,
		broker:     broker,
		displays:   displays,
	}
}

func (h *Checker) Check(ctx context.Context) Status {
	status := Status{
		Healthy: true,
		Errors:  []string{},
	}

	status.PeripheralConnected = h.peripheral.Connected()
	status.IngestionPaused = h.peripheral.Paused()
	if !status.PeripheralConnected {
		status.Healthy = false
		status.Errors = append(status.Errors, "peripheral disconnected")
	}

	status.EventsPublished, status.LastEventTime = h.dispatcher.Stats()
	status.DispatcherRunning = h.dispatcher.Running()
	if !status.DispatcherRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "event dispatcher not running")
	}

	if h.broker != nil {
		connected := h.broker.Connected()
		status.BrokerConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.displays != nil {
		status.DisplayConnections = h.displays.Count()
	}

	return status
}

// ServeHTTP answers 200 when healthy and 503 otherwise
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
