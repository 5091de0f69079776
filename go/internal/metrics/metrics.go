package metrics

import (
	"time"

	"github.com/mcdev12/lightsout/go/internal/events"
	"github.com/mcdev12/lightsout/go/internal/gateway"
	"github.com/mcdev12/lightsout/go/internal/ingest"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/mcdev12/lightsout/go/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lightsout"

// Collector implements the metrics hooks of every package on top of a
// Prometheus registry
type Collector struct {
	ingestLines    *prometheus.CounterVec
	ingestConnects *prometheus.CounterVec
	armSignals     *prometheus.CounterVec

	transitions   *prometheus.CounterVec
	commits       *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
	captureTime   *prometheus.HistogramVec

	persistTime *prometheus.HistogramVec

	publishes     *prometheus.CounterVec
	publishTime   prometheus.Histogram
	eventsDropped *prometheus.CounterVec

	displayClients    prometheus.Gauge
	broadcastsDropped prometheus.Counter
}

var (
	_ ingest.MetricsCollector      = (*Collector)(nil)
	_ session.MetricsCollector     = (*Collector)(nil)
	_ leaderboard.MetricsCollector = (*Collector)(nil)
	_ events.MetricsCollector      = (*Collector)(nil)
	_ gateway.MetricsCollector     = (*Collector)(nil)
)

// NewCollector registers all collectors with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		ingestLines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Lines read from the peripheral by outcome",
		}, []string{"outcome"}),
		ingestConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "connects_total",
			Help:      "Attempts to open the peripheral channel",
		}, []string{"result"}),
		armSignals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "arm_signals_total",
			Help:      "Arm signals written to the peripheral",
		}, []string{"result"}),

		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Stage transitions",
		}, []string{"from", "to"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commits_total",
			Help:      "Record commits by source and result",
		}, []string{"source", "result"}),
		droppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "dropped_events_total",
			Help:      "Peripheral events ignored because of the current stage",
		}, []string{"event", "stage"}),
		captureTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "capture_duration_seconds",
			Help:      "Photo capture latency",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"result"}),

		persistTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "persist_duration_seconds",
			Help:      "Leaderboard persistence latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),

		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publishes_total",
			Help:      "Event publish attempts by type and result",
		}, []string{"event_type", "result"}),
		publishTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_duration_seconds",
			Help:      "Event publish latency",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the dispatch queue was full",
		}, []string{"event_type"}),

		displayClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "display_connections",
			Help:      "Connected display websockets",
		}),
		broadcastsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "broadcasts_dropped_total",
			Help:      "Display messages dropped because the broadcast queue was full",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func success(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordLine implements ingest.MetricsCollector
func (c *Collector) RecordLine(outcome string) {
	c.ingestLines.WithLabelValues(outcome).Inc()
}

// RecordConnect implements ingest.MetricsCollector
func (c *Collector) RecordConnect(ok bool) {
	c.ingestConnects.WithLabelValues(success(ok)).Inc()
}

// RecordArm implements ingest.MetricsCollector
func (c *Collector) RecordArm(ok bool) {
	c.armSignals.WithLabelValues(success(ok)).Inc()
}

// RecordTransition implements session.MetricsCollector
func (c *Collector) RecordTransition(from, to session.Kind) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordCommit implements session.MetricsCollector
func (c *Collector) RecordCommit(source string, err error) {
	c.commits.WithLabelValues(source, result(err)).Inc()
}

// RecordDroppedEvent implements session.MetricsCollector
func (c *Collector) RecordDroppedEvent(event string, stage session.Kind) {
	c.droppedEvents.WithLabelValues(event, string(stage)).Inc()
}

// RecordCapture implements session.MetricsCollector
func (c *Collector) RecordCapture(duration time.Duration, err error) {
	c.captureTime.WithLabelValues(result(err)).Observe(duration.Seconds())
}

// RecordPersist implements leaderboard.MetricsCollector
func (c *Collector) RecordPersist(duration time.Duration, err error) {
	c.persistTime.WithLabelValues(result(err)).Observe(duration.Seconds())
}

// RecordPublish implements events.MetricsCollector
func (c *Collector) RecordPublish(eventType string, ok bool, duration time.Duration) {
	c.publishes.WithLabelValues(eventType, success(ok)).Inc()
	c.publishTime.Observe(duration.Seconds())
}

// RecordDropped implements events.MetricsCollector
func (c *Collector) RecordDropped(eventType string) {
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

// SetConnections implements gateway.MetricsCollector
func (c *Collector) SetConnections(n int) {
	c.displayClients.Set(float64(n))
}

// RecordBroadcastDropped implements gateway.MetricsCollector
func (c *Collector) RecordBroadcastDropped() {
	c.broadcastsDropped.Inc()
}
