// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/models"
)

// InsertMatch persists a filter match at most once per (candid, filter_id).
// Re-evaluating an already-matched pair is a no-op; the return value tells
// the caller whether this insert won (and so whether to publish downstream).
func (db *DB) InsertMatch(ctx context.Context, m *models.MatchResult) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	output, err := json.Marshal(m.Output)
	if err != nil {
		return false, fmt.Errorf("%w: marshal match output: %v", ErrInvalidInput, err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO matches (candid, filter_id, group_id, output, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (candid, filter_id) DO NOTHING`,
		m.Candid, m.FilterID, m.GroupID, string(output), m.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert match (%d, %s): %w", m.Candid, m.FilterID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read match insert result: %w", err)
	}
	return n > 0, nil
}

// ListMatches returns the match records for an alert, ordered by filter id.
func (db *DB) ListMatches(ctx context.Context, candid int64) ([]models.MatchResult, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT candid, filter_id, group_id, output, created_at
		 FROM matches WHERE candid = ? ORDER BY filter_id`, candid)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for %d: %w", candid, err)
	}
	defer closeQuietly(rows)

	var matches []models.MatchResult
	for rows.Next() {
		var (
			m      models.MatchResult
			output string
		)
		if err := rows.Scan(&m.Candid, &m.FilterID, &m.GroupID, &output, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &m.Output); err != nil {
			return nil, fmt.Errorf("failed to decode match output: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return matches, nil
}
