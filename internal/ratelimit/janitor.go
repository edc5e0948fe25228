package ratelimit

import (
	"context"
	"time"

	"github.com/palmkit/throttle/pkg/logger"
)

// Janitor periodically removes stale records from a WindowStore.
type Janitor struct {
	store    *WindowStore
	interval time.Duration
	maxAge   time.Duration
	log      *logger.Logger
}

// NewJanitor creates a janitor sweeping records older than maxAge every
// interval. An interval of zero disables the periodic sweep.
func NewJanitor(ws *WindowStore, interval, maxAge time.Duration, opts ...Option) *Janitor {
	o := buildOptions(opts)
	return &Janitor{
		store:    ws,
		interval: interval,
		maxAge:   maxAge,
		log:      o.log.Named("janitor"),
	}
}

// SweepOnce runs a single cleanup and returns the number of records removed.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	n, err := j.store.Cleanup(ctx, j.maxAge)
	if err != nil {
		return n, err
	}
	if n > 0 {
		j.log.Info("stale records removed", "count", n, "max_age", j.maxAge.String())
	} else {
		j.log.Debug("no stale records", "max_age", j.maxAge.String())
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done. It returns immediately when
// the janitor is disabled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 {
		j.log.Info("janitor disabled")
		return nil
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.Info("janitor started", "interval", j.interval.String(), "max_age", j.maxAge.String())
	for {
		select {
		case <-ticker.C:
			if n, err := j.SweepOnce(ctx); err != nil {
				j.log.Warn("sweep failed", "removed", n, "error", err)
			}
		case <-ctx.Done():
			j.log.Info("janitor stopped")
			return nil
		}
	}
}
