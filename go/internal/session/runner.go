package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Consume feeds events from src into the controller until ctx is done
func (c *Controller) Consume(ctx context.Context, src EventSource) error {
	log.Info().Msg("session event consumer started")
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info().Msg("session event consumer stopped")
				return nil
			}
			return err
		}
		c.HandleEvent(ctx, ev)
	}
}

// RunSweeper reads the stage on every tick so dwell expiry, and the ingestion
// resume that comes with it, happens even when nobody polls the display.
func (c *Controller) RunSweeper(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.cfg.SweepInterval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.Chan():
			c.Stage(ctx)
		}
	}
}
