// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package executor runs queued query jobs against the alert store with a
// hard per-attempt time budget and bounded retries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
	"github.com/tomtom215/boreal/internal/queue"
	"github.com/tomtom215/boreal/internal/store"

	"github.com/google/uuid"
)

// Store is the persistence slice the executor needs: job state transitions
// plus the read operations jobs perform.
type Store interface {
	MarkJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	CompleteJobSuccess(ctx context.Context, id uuid.UUID, result []map[string]any, attempts int, finishedAt time.Time) (bool, error)
	CompleteJobFailure(ctx context.Context, id uuid.UUID, errMsg string, attempts int, finishedAt time.Time) (bool, error)

	FindAlerts(ctx context.Context, filter map[string]any, projection []string, limit int) ([]map[string]any, error)
	CountAlerts(ctx context.Context, filter map[string]any) (int64, error)
	SampleAlerts(ctx context.Context, filter map[string]any, limit int) ([]map[string]any, error)
	ConeSearchAlerts(ctx context.Context, ra, dec, radiusArcsec float64, limit int) ([]map[string]any, error)
	ConeSearchCatalog(ctx context.Context, catalog string, ra, dec, radiusArcsec float64, projection []string, constraints map[string]any) ([]models.CatalogEntry, error)
}

// Dequeuer hands out dispatchable jobs; blocks until one is available.
type Dequeuer interface {
	Dequeue(ctx context.Context) (*models.QueryJob, error)
}

// Executor is the query worker pool. Each worker claims a job with a
// conditional queued->running transition (so a job the reaper already
// expired is skipped), executes it under the per-attempt time budget, and
// commits the terminal state conditionally so a concurrent expiry wins.
type Executor struct {
	store Store
	jobs  Dequeuer
	clock queue.Clock
	cfg   config.QueryConfig
}

// New creates an executor.
func New(st Store, jobs Dequeuer, clock queue.Clock, cfg config.QueryConfig) (*Executor, error) {
	if st == nil {
		return nil, errors.New("executor: store required")
	}
	if jobs == nil {
		return nil, errors.New("executor: job source required")
	}
	if clock == nil {
		clock = queue.SystemClock()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxTime <= 0 {
		cfg.MaxTime = 500 * time.Millisecond
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = 1000
	}
	return &Executor{store: st, jobs: jobs, clock: clock, cfg: cfg}, nil
}

// Run starts the worker pool and blocks until the context is canceled.
func (e *Executor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Serve implements suture.Service.
func (e *Executor) Serve(ctx context.Context) error {
	return e.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (e *Executor) String() string {
	return "query-executor"
}

func (e *Executor) worker(ctx context.Context) {
	for {
		job, err := e.jobs.Dequeue(ctx)
		if err != nil {
			return
		}
		e.Execute(ctx, job)
	}
}

// Execute claims and runs one job to a terminal state.
func (e *Executor) Execute(ctx context.Context, job *models.QueryJob) {
	claimed, err := e.store.MarkJobRunning(ctx, job.ID, e.clock.Now())
	if err != nil {
		logging.Error().Err(err).Str("job_id", job.ID.String()).Msg("Job claim failed")
		return
	}
	if !claimed {
		// Expired (or otherwise no longer queued) before a worker got to
		// it; the store row already carries the outcome.
		logging.Debug().Str("job_id", job.ID.String()).Msg("Skipping unclaimable job")
		return
	}

	start := e.clock.Now()
	result, attempts, err := e.attempt(ctx, job)
	finished := e.clock.Now()
	metrics.JobDuration.Observe(finished.Sub(start).Seconds())

	if err != nil {
		committed, cerr := e.store.CompleteJobFailure(ctx, job.ID, err.Error(), attempts, finished)
		e.logCommit(job, "failed", committed, cerr)
		metrics.JobsCompleted.WithLabelValues("failed").Inc()
		return
	}

	committed, cerr := e.store.CompleteJobSuccess(ctx, job.ID, result, attempts, finished)
	e.logCommit(job, "succeeded", committed, cerr)
	metrics.JobsCompleted.WithLabelValues("succeeded").Inc()
}

func (e *Executor) logCommit(job *models.QueryJob, state string, committed bool, err error) {
	switch {
	case err != nil:
		logging.Error().Err(err).Str("job_id", job.ID.String()).Msg("Job completion commit failed")
	case !committed:
		// The reaper expired the job mid-flight; its verdict stands.
		logging.Warn().Str("job_id", job.ID.String()).Str("state", state).
			Msg("Job finished after expiry, result discarded")
	default:
		logging.Debug().Str("job_id", job.ID.String()).Str("state", state).
			Str("submitter", job.Submitter).Msg("Job completed")
	}
}

// attempt runs the job's operation, retrying transient store failures with
// a fixed delay on the injected clock, up to MaxRetries extra attempts.
// Each attempt gets the full MaxTime budget; a budget overrun is permanent,
// not transient.
func (e *Executor) attempt(ctx context.Context, job *models.QueryJob) ([]map[string]any, int, error) {
	attempts := 0
	for {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxTime)
		result, err := e.run(attemptCtx, job)
		cancel()

		if err == nil {
			return result, attempts, nil
		}
		if !store.IsTransient(err) || attempts > e.cfg.MaxRetries {
			return nil, attempts, err
		}

		metrics.JobRetries.Inc()
		logging.Debug().Err(err).Str("job_id", job.ID.String()).
			Int("attempt", attempts).Msg("Retrying job after transient failure")

		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-e.clock.After(e.cfg.RetryDelay):
		}
	}
}

func (e *Executor) run(ctx context.Context, job *models.QueryJob) ([]map[string]any, error) {
	limit := job.Params.Limit
	if limit <= 0 || limit > e.cfg.MaxResultRows {
		limit = e.cfg.MaxResultRows
	}

	switch job.Operation {
	case models.OpFind:
		if job.Params.Catalog != "alerts" {
			return nil, fmt.Errorf("find supports only the alerts collection, got %q", job.Params.Catalog)
		}
		return e.store.FindAlerts(ctx, job.Params.Filter, job.Params.Projection, limit)

	case models.OpCount:
		if job.Params.Catalog != "alerts" {
			return nil, fmt.Errorf("count supports only the alerts collection, got %q", job.Params.Catalog)
		}
		n, err := e.store.CountAlerts(ctx, job.Params.Filter)
		if err != nil {
			return nil, err
		}
		return []map[string]any{{"count": n}}, nil

	case models.OpSample:
		if job.Params.Catalog != "alerts" {
			return nil, fmt.Errorf("sample supports only the alerts collection, got %q", job.Params.Catalog)
		}
		return e.store.SampleAlerts(ctx, job.Params.Filter, limit)

	case models.OpConeSearch:
		if job.Params.Catalog == "alerts" {
			return e.store.ConeSearchAlerts(ctx, job.Params.RA, job.Params.Dec,
				job.Params.RadiusArcsec, limit)
		}
		entries, err := e.store.ConeSearchCatalog(ctx, job.Params.Catalog,
			job.Params.RA, job.Params.Dec, job.Params.RadiusArcsec,
			job.Params.Projection, nil)
		if err != nil {
			return nil, err
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}
		out := make([]map[string]any, 0, len(entries))
		for i := range entries {
			entry := &entries[i]
			doc := make(map[string]any, len(entry.Fields)+4)
			for k, v := range entry.Fields {
				doc[k] = v
			}
			doc["_id"] = entry.ID
			doc["ra"] = entry.RA
			doc["dec"] = entry.Dec
			doc["distance_arcsec"] = entry.DistanceArcsec
			out = append(out, doc)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown operation %q", job.Operation)
}
