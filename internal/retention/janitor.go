// Package retention removes journal records whose ttl has passed.
package retention

import (
	"context"
	"errors"
	"time"

	"go-relay/internal/core/ports"
	"go-relay/internal/infrastructure/metrics"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

type Janitor struct {
	stores   []ports.RetentionStore
	interval time.Duration
	clock    clock.WithTicker
	log      zerolog.Logger
}

func NewJanitor(interval time.Duration, c clock.WithTicker, log zerolog.Logger, stores ...ports.RetentionStore) *Janitor {
	if c == nil {
		c = clock.RealClock{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		stores:   stores,
		interval: interval,
		clock:    c,
		log:      log.With().Str("component", "retention").Logger(),
	}
}

// Purge runs one pass over every store.
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	now := j.clock.Now()
	var total int64
	var errs []error
	for _, s := range j.stores {
		n, err := s.PurgeExpired(ctx, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	metrics.AddPurged(total)
	return total, errors.Join(errs...)
}

// Start purges every interval until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := j.Purge(ctx)
			if err != nil {
				j.log.Error().Err(err).Msg("retention pass failed")
			}
			if n > 0 {
				j.log.Info().Int64("removed", n).Msg("expired records removed")
			}
		}
	}
}
