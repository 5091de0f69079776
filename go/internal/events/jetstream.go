package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Message headers set on every published event
const (
	HeaderEventType = "Event-Type"
	HeaderEventID   = "Event-ID"
)

type JetStreamConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxReconnects int // -1 retries forever
	ReconnectWait time.Duration
	// Retention bounds how long events stay in the stream, 0 keeps them forever
	Retention time.Duration
	// DedupeWindow is how long a repeated event ID is ignored. It never exceeds Retention.
	DedupeWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		Stream:        "LIGHTSOUT_EVENTS",
		SubjectPrefix: "lightsout.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Retention:     30 * 24 * time.Hour,
		DedupeWindow:  2 * time.Hour,
	}
}

// streamConfig is the stream the kiosk publishes into: one node, file backed,
// every event type under the subject prefix
func (c JetStreamConfig) streamConfig() jetstream.StreamConfig {
	dedupe := c.DedupeWindow
	if c.Retention > 0 && dedupe > c.Retention {
		dedupe = c.Retention
	}
	return jetstream.StreamConfig{
		Name:        c.Stream,
		Description: "Reaction timer stage and leaderboard events",
		Subjects:    []string{c.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      c.Retention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  dedupe,
	}
}

// JetStreamPublisher publishes events to a JetStream stream, one subject per
// event type, using the event ID for server side dedupe
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("lightsout"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("stream", cfg.Stream).Msg("event broker disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("event broker reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg.streamConfig())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	info := stream.CachedInfo()
	log.Info().
		Str("stream", cfg.Stream).
		Dur("retention", info.Config.MaxAge).
		Dur("dedupe_window", info.Config.Duplicates).
		Uint64("messages", info.State.Msgs).
		Msg("event stream ready")

	return &JetStreamPublisher{nc: nc, js: js, config: cfg}, nil
}

// Subject returns the subject an event type is published on
func (p *JetStreamPublisher) Subject(eventType string) string {
	return p.config.SubjectPrefix + "." + eventType
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(HeaderEventType, event.Type)
	msg.Header.Set(HeaderEventID, event.ID.String())

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.Stream),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("event published")
	return nil
}

// Connected reports whether the NATS connection is currently up
func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close flushes pending publishes and closes the connection
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
