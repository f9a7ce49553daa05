// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/boreal/internal/models"
)

// InsertJob persists a newly submitted query job in the queued state.
func (db *DB) InsertJob(ctx context.Context, job *models.QueryJob) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("%w: marshal job params: %v", ErrInvalidInput, err)
	}
	if job.State == "" {
		job.State = models.JobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO queries (id, submitter, operation, params, state, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.Submitter, string(job.Operation), string(params),
		string(job.State), job.Attempts, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a query job by id.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.QueryJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		job        models.QueryJob
		idStr      string
		op         string
		state      string
		params     string
		result     sql.NullString
		errMsg     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, submitter, operation, params, state, attempts, result, error,
		        created_at, started_at, finished_at
		 FROM queries WHERE id = ?`, id.String()).
		Scan(&idStr, &job.Submitter, &op, &params, &state, &job.Attempts,
			&result, &errMsg, &job.CreatedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	job.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job id %q: %w", idStr, err)
	}
	job.Operation = models.QueryOperation(op)
	job.State = models.JobState(state)
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params for job %s: %w", id, err)
	}
	if result.Valid && result.String != "" && result.String != "null" {
		if err := json.Unmarshal([]byte(result.String), &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result for job %s: %w", id, err)
		}
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

// MarkJobRunning transitions a job queued -> running. Returns false when
// the job is no longer queued (e.g. the reaper expired it first); the
// executor must then skip it.
func (db *DB) MarkJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	return db.casState(ctx, id,
		`UPDATE queries SET state = ?, started_at = ? WHERE id = ? AND state = ?`,
		string(models.JobRunning), startedAt, id.String(), string(models.JobQueued))
}

// CompleteJobSuccess transitions running -> succeeded and stores the result
// payload. Conditional on the job still being in running so a concurrent
// expiry cannot be overwritten.
func (db *DB) CompleteJobSuccess(ctx context.Context, id uuid.UUID, result []map[string]any, attempts int, finishedAt time.Time) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("%w: marshal job result: %v", ErrInvalidInput, err)
	}
	return db.casState(ctx, id,
		`UPDATE queries SET state = ?, result = ?, attempts = ?, finished_at = ?
		 WHERE id = ? AND state = ?`,
		string(models.JobSucceeded), string(payload), attempts, finishedAt,
		id.String(), string(models.JobRunning))
}

// CompleteJobFailure transitions running -> failed, recording the last
// error and the number of attempts made.
func (db *DB) CompleteJobFailure(ctx context.Context, id uuid.UUID, errMsg string, attempts int, finishedAt time.Time) (bool, error) {
	return db.casState(ctx, id,
		`UPDATE queries SET state = ?, error = ?, attempts = ?, finished_at = ?
		 WHERE id = ? AND state = ?`,
		string(models.JobFailed), errMsg, attempts, finishedAt,
		id.String(), string(models.JobRunning))
}

// ExpireJobs force-transitions every job stuck in queued or running since
// before cutoff to expired and returns their ids, so the caller can evict
// them from in-memory dispatch structures. This is the reaper's conditional
// sweep; the state predicate makes it safe against executors completing
// concurrently.
func (db *DB) ExpireJobs(ctx context.Context, cutoff, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`UPDATE queries SET state = ?, error = ?, finished_at = ?
		 WHERE state IN (?, ?) AND created_at <= ?
		 RETURNING id`,
		string(models.JobExpired), "expired: exceeded expiration interval", now,
		string(models.JobQueued), string(models.JobRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire jobs: %w", err)
	}
	defer closeQuietly(rows)

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan expired job id: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expired job id %q: %w", idStr, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired jobs: %w", err)
	}
	return ids, nil
}

// PurgeTerminalJobs deletes terminal jobs finished before the cutoff.
func (db *DB) PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM queries
		 WHERE state IN (?, ?, ?) AND finished_at IS NOT NULL AND finished_at <= ?`,
		string(models.JobSucceeded), string(models.JobFailed), string(models.JobExpired), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return n, nil
}

// ListQueuedJobs returns queued jobs in submission order, used to rebuild
// the in-memory dispatch queues after a restart.
func (db *DB) ListQueuedJobs(ctx context.Context) ([]models.QueryJob, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM queries WHERE state = ? ORDER BY created_at`,
		string(models.JobQueued))
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	defer closeQuietly(rows)

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse job id %q: %w", idStr, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queued jobs: %w", err)
	}

	jobs := make([]models.QueryJob, 0, len(ids))
	for _, id := range ids {
		job, err := db.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// casState executes a conditional state transition and reports whether it
// won (affected exactly one row).
func (db *DB) casState(ctx context.Context, id uuid.UUID, query string, args ...any) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result for job %s: %w", id, err)
	}
	return n == 1, nil
}
