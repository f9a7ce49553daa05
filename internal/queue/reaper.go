// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
)

// ReaperStore is the persistence slice the reaper needs.
type ReaperStore interface {
	ExpireJobs(ctx context.Context, cutoff, now time.Time) ([]uuid.UUID, error)
	PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Evictor drops a job from in-memory dispatch structures, so expired
// queued jobs stop counting toward queue depth.
type Evictor interface {
	Drop(id uuid.UUID) bool
}

// Reaper enforces bounded job lifetime: jobs stuck in queued or running
// past the expiration interval are forced to expired, and terminal jobs
// past the retention window are purged. Both sweeps are conditional store
// updates, so the reaper can never overwrite a result an executor is
// committing concurrently.
type Reaper struct {
	store   ReaperStore
	evictor Evictor
	clock   Clock
	cfg     config.QueryConfig
}

// NewReaper creates a reaper. evictor may be nil when no in-memory queue
// needs cleaning up.
func NewReaper(store ReaperStore, evictor Evictor, clock Clock, cfg config.QueryConfig) (*Reaper, error) {
	if store == nil {
		return nil, errors.New("queue: reaper store required")
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.ExpirationInterval <= 0 {
		return nil, errors.New("queue: expiration interval must be positive")
	}
	return &Reaper{store: store, evictor: evictor, clock: clock, cfg: cfg}, nil
}

// Sweep runs one expiration-and-purge pass.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.clock.Now()

	expired, err := r.store.ExpireJobs(ctx, now.Add(-r.cfg.ExpirationInterval), now)
	if err != nil {
		return fmt.Errorf("queue: expire sweep: %w", err)
	}
	if len(expired) > 0 {
		if r.evictor != nil {
			for _, id := range expired {
				r.evictor.Drop(id)
			}
		}
		metrics.JobsCompleted.WithLabelValues("expired").Add(float64(len(expired)))
		logging.Info().Int("count", len(expired)).Msg("Expired stale query jobs")
	}

	if r.cfg.Retention > 0 {
		purged, err := r.store.PurgeTerminalJobs(ctx, now.Add(-r.cfg.Retention))
		if err != nil {
			return fmt.Errorf("queue: purge sweep: %w", err)
		}
		if purged > 0 {
			logging.Debug().Int64("count", purged).Msg("Purged terminal query jobs")
		}
	}
	return nil
}

// Run sweeps periodically until the context is canceled. A failing sweep
// is logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.cfg.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				logging.Warn().Err(err).Msg("Reaper sweep failed")
			}
		}
	}
}

// Serve implements suture.Service.
func (r *Reaper) Serve(ctx context.Context) error {
	return r.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (r *Reaper) String() string {
	return "query-reaper"
}
