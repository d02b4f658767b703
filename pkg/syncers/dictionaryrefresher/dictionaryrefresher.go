// Package dictionaryrefresher periodically reloads the lookup dictionary from
// its source. Every instance refreshes its own copy.
package dictionaryrefresher

import (
	"context"
	"fmt"
	"time"

	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/rs/zerolog"
)

type DictionaryRefresher struct {
	service service.DictionaryService
	log     zerolog.Logger
}

func New(service service.DictionaryService, log zerolog.Logger) *DictionaryRefresher {
	return &DictionaryRefresher{
		service: service,
		log:     log,
	}
}

func (d *DictionaryRefresher) Run(ctx context.Context, startupDelay, frequency time.Duration) {
	d.log.Info().Dur("refresh_frequency", frequency).Msg("starting dictionary refresher")

	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	select {
	case <-time.After(startupDelay):
	case <-ctx.Done():
		return
	}

	d.log.Info().Msg("running initial refresh")
	d.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			d.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *DictionaryRefresher) refresh(ctx context.Context) {
	changed, err := d.RunOnce(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("refreshing dictionary, keeping the previous version")
		return
	}

	if changed {
		d.log.Info().Msg("dictionary refreshed")
		return
	}

	d.log.Debug().Msg("dictionary unchanged")
}

// RunOnce reloads the dictionary and reports whether a new version was
// swapped in.
func (d *DictionaryRefresher) RunOnce(ctx context.Context) (bool, error) {
	changed, err := d.service.Reload(ctx)
	if err != nil {
		return false, fmt.Errorf("reloading dictionary: %w", err)
	}

	return changed, nil
}
