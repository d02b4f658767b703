// Package cachepurger deletes expired replies from caches that do not
// expire entries on their own.
package cachepurger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// LeaderFunc reports whether this replica should purge. Replicas share the
// cache table, so only the leader does.
type LeaderFunc func(ctx context.Context) (bool, error)

type CachePurger struct {
	purger   Purger
	isLeader LeaderFunc
	log      zerolog.Logger
}

// New returns a purger. A nil isLeader purges on every replica.
func New(purger Purger, isLeader LeaderFunc, log zerolog.Logger) *CachePurger {
	return &CachePurger{
		purger:   purger,
		isLeader: isLeader,
		log:      log,
	}
}

func (c *CachePurger) Run(ctx context.Context, startupDelay, frequency time.Duration) {
	c.log.Info().Dur("purge_frequency", frequency).Msg("starting cache purger")

	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	select {
	case <-time.After(startupDelay):
	case <-ctx.Done():
		return
	}

	for {
		err := c.RunOnce(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("purging cache")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *CachePurger) RunOnce(ctx context.Context) error {
	if c.isLeader != nil {
		leader, err := c.isLeader(ctx)
		if err != nil {
			return fmt.Errorf("checking leader status: %w", err)
		}

		if !leader {
			c.log.Debug().Msg("not the leader, skipping purge")
			return nil
		}
	}

	n, err := c.purger.Purge(ctx)
	if err != nil {
		return fmt.Errorf("invoking purge: %w", err)
	}

	c.log.Info().Int64("purged", n).Msg("cache purged")

	return nil
}
