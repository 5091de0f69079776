package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		RawJSON("payload", event.Payload).
		Msg("event")
	return nil
}

func (LogPublisher) Close() error { return nil }
