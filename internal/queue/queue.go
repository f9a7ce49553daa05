// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package queue implements the asynchronous query job queue: durable
// submission, fair in-memory dispatch and the expiration reaper.
//
// Jobs are persisted on submission, before they become dispatchable, so a
// restart recovers the queue from the store. Dispatch is round-robin
// across submitters with per-submitter FIFO order: one user flooding the
// queue delays their own later jobs, not everyone else's.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// ErrInvalidJob marks a submission that is malformed and was rejected
// before reaching the store.
var ErrInvalidJob = errors.New("queue: invalid job")

// Store is the persistence slice the queue needs.
type Store interface {
	InsertJob(ctx context.Context, job *models.QueryJob) error
	ListQueuedJobs(ctx context.Context) ([]models.QueryJob, error)
}

// Queue accepts query jobs and dispatches them fairly to executor workers.
type Queue struct {
	store Store
	clock Clock

	mu         sync.Mutex
	perSub     map[string][]*models.QueryJob
	submitters []string
	next       int
	depth      int

	// notify wakes one blocked Dequeue when a job arrives.
	notify chan struct{}
}

// New creates an empty queue. Call Restore before dispatching to recover
// jobs persisted by a previous process.
func New(store Store, clock Clock) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue: store required")
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Queue{
		store:  store,
		clock:  clock,
		perSub: map[string][]*models.QueryJob{},
		notify: make(chan struct{}, 1),
	}, nil
}

// Restore loads every still-queued job from the store into the dispatch
// structures, preserving submission order.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	jobs, err := q.store.ListQueuedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: restore: %w", err)
	}
	for i := range jobs {
		q.enqueue(&jobs[i])
	}
	return len(jobs), nil
}

// Submit validates the job, persists it in the queued state and makes it
// dispatchable. The job's ID and timestamps are assigned here.
func (q *Queue) Submit(ctx context.Context, job *models.QueryJob) error {
	if err := validate(job); err != nil {
		return err
	}

	job.ID = uuid.New()
	job.State = models.JobQueued
	job.Attempts = 0
	job.CreatedAt = q.clock.Now()

	// Durable first: a job is only dispatchable once it would survive a
	// crash.
	if err := q.store.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("queue: persist job: %w", err)
	}
	q.enqueue(job)
	return nil
}

func validate(job *models.QueryJob) error {
	if job.Submitter == "" {
		return fmt.Errorf("%w: missing submitter", ErrInvalidJob)
	}
	if !job.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, job.Operation)
	}
	if job.Params.Catalog == "" {
		return fmt.Errorf("%w: missing catalog", ErrInvalidJob)
	}
	if job.Operation == models.OpConeSearch {
		if job.Params.RadiusArcsec <= 0 {
			return fmt.Errorf("%w: cone search needs a positive radius", ErrInvalidJob)
		}
		if job.Params.RA < 0 || job.Params.RA >= 360 || job.Params.Dec < -90 || job.Params.Dec > 90 {
			return fmt.Errorf("%w: cone search position out of range", ErrInvalidJob)
		}
	}
	if job.Params.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidJob)
	}
	return nil
}

func (q *Queue) enqueue(job *models.QueryJob) {
	q.mu.Lock()
	if _, ok := q.perSub[job.Submitter]; !ok {
		q.submitters = append(q.submitters, job.Submitter)
	}
	q.perSub[job.Submitter] = append(q.perSub[job.Submitter], job)
	q.depth++
	metrics.QueueDepth.Set(float64(q.depth))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a job is available or the context is canceled.
// Jobs are handed out round-robin over submitters, FIFO within each.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueryJob, error) {
	for {
		if job := q.pop(); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() *models.QueryJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for range q.submitters {
		sub := q.submitters[q.next%len(q.submitters)]
		q.next++
		fifo := q.perSub[sub]
		if len(fifo) == 0 {
			continue
		}
		job := fifo[0]
		q.perSub[sub] = fifo[1:]
		q.depth--
		metrics.QueueDepth.Set(float64(q.depth))
		if q.depth > 0 {
			// The buffered token coalesces burst submits; hand it on so the
			// next blocked Dequeue wakes for the remaining work.
			select {
			case q.notify <- struct{}{}:
			default:
			}
		}
		return job
	}
	return nil
}

// Depth returns the number of dispatchable jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Drop removes a job from the dispatch structures if it is still waiting,
// used when the reaper expires a queued job. Returns whether it was found.
func (q *Queue) Drop(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for sub, fifo := range q.perSub {
		for i, job := range fifo {
			if job.ID == id {
				q.perSub[sub] = append(fifo[:i:i], fifo[i+1:]...)
				q.depth--
				metrics.QueueDepth.Set(float64(q.depth))
				return true
			}
		}
	}
	return false
}
