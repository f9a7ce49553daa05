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

	"github.com/tomtom215/boreal/internal/models"
)

// InsertAlert durably writes an alert. Returns false when the candid was
// already present: duplicate delivery is an idempotent no-op, never an
// error (candid is globally unique and immutable once stored).
func (db *DB) InsertAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if alert.IngestedAt.IsZero() {
		alert.IngestedAt = time.Now().UTC()
	}

	doc, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("%w: marshal alert %d: %v", ErrInvalidInput, alert.Candid, err)
	}

	query := `INSERT INTO alerts (
		candid, object_id, jd, ra, "dec", program_id, fid, magpsf, rb, drb, doc, ingested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (candid) DO NOTHING`

	res, err := db.conn.ExecContext(ctx, query,
		alert.Candid, alert.ObjectID, alert.Candidate.JD,
		alert.Candidate.RA, alert.Candidate.Dec, alert.Candidate.ProgramID,
		alert.Candidate.FID, alert.Candidate.Magpsf,
		alert.Candidate.RB, alert.Candidate.DRB,
		string(doc), alert.IngestedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert alert %d: %w", alert.Candid, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for alert %d: %w", alert.Candid, err)
	}
	return n > 0, nil
}

// AlertExists reports whether an alert with the given candid is stored.
// This is the authoritative dedup check behind the fast-path cache.
func (db *DB) AlertExists(ctx context.Context, candid int64) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM alerts WHERE candid = ? LIMIT 1`, candid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check alert %d: %w", candid, err)
	}
	return true, nil
}

// GetAlert retrieves the full alert document by candid.
func (db *DB) GetAlert(ctx context.Context, candid int64) (*models.Alert, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var doc string
	err := db.conn.QueryRowContext(ctx,
		`SELECT doc FROM alerts WHERE candid = ?`, candid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", candid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", candid, err)
	}

	alert := &models.Alert{}
	if err := json.Unmarshal([]byte(doc), alert); err != nil {
		return nil, fmt.Errorf("failed to decode alert %d: %w", candid, err)
	}
	return alert, nil
}
