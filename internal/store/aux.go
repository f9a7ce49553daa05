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

// InsertAuxCrossMatches caches cross-match results for an object. The write
// is first-writer-wins: concurrent detections of the same object race to
// insert, exactly one wins, and the return value tells the caller whether
// its computation was the one cached. No lock is taken.
func (db *DB) InsertAuxCrossMatches(ctx context.Context, objectID string, xmatches map[string][]map[string]any) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if xmatches == nil {
		xmatches = map[string][]map[string]any{}
	}
	doc, err := json.Marshal(xmatches)
	if err != nil {
		return false, fmt.Errorf("%w: marshal cross-matches for %s: %v", ErrInvalidInput, objectID, err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO alerts_aux (object_id, cross_matches, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (object_id) DO NOTHING`,
		objectID, string(doc), time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to cache cross-matches for %s: %w", objectID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read aux insert result for %s: %w", objectID, err)
	}
	return n > 0, nil
}

// HasAuxCrossMatches reports whether cross-matches are already cached for
// the object.
func (db *DB) HasAuxCrossMatches(ctx context.Context, objectID string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM alerts_aux WHERE object_id = ? LIMIT 1`, objectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check aux for %s: %w", objectID, err)
	}
	return true, nil
}

// AppendPrvCandidates appends prior-detection summaries to the object's
// history. The history is append-only; re-delivered entries are
// deduplicated on (object_id, jd, program_id) and silently skipped.
func (db *DB) AppendPrvCandidates(ctx context.Context, objectID string, prv []models.PrvCandidate) error {
	if len(prv) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin aux append for %s: %w", objectID, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `INSERT INTO aux_detections (object_id, jd, program_id, candid, fid, fields)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (object_id, jd, program_id) DO NOTHING`

	for _, p := range prv {
		fields, err := json.Marshal(p.Fields)
		if err != nil {
			return fmt.Errorf("%w: marshal prv fields for %s: %v", ErrInvalidInput, objectID, err)
		}
		var candid any
		if p.Candid != 0 {
			candid = p.Candid
		}
		if _, err := tx.ExecContext(ctx, stmt, objectID, p.JD, p.ProgramID, candid, p.FID, string(fields)); err != nil {
			if isDuplicateKey(err) {
				continue
			}
			return fmt.Errorf("failed to append prv candidate for %s: %w", objectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aux append for %s: %w", objectID, err)
	}
	return nil
}

// GetAux assembles the object's full auxiliary record: cached cross-matches
// plus the ordered prior-detection history (oldest first).
func (db *DB) GetAux(ctx context.Context, objectID string) (*models.AlertAux, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	aux := &models.AlertAux{
		ObjectID:     objectID,
		CrossMatches: map[string][]map[string]any{},
	}

	var doc string
	err := db.conn.QueryRowContext(ctx,
		`SELECT cross_matches, created_at FROM alerts_aux WHERE object_id = ?`,
		objectID).Scan(&doc, &aux.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No enrichment yet; history may still exist.
	case err != nil:
		return nil, fmt.Errorf("failed to get aux for %s: %w", objectID, err)
	default:
		if err := json.Unmarshal([]byte(doc), &aux.CrossMatches); err != nil {
			return nil, fmt.Errorf("failed to decode cross-matches for %s: %w", objectID, err)
		}
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT jd, program_id, candid, fid, fields
		 FROM aux_detections WHERE object_id = ? ORDER BY jd`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", objectID, err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var (
			p      models.PrvCandidate
			candid sql.NullInt64
			fid    sql.NullInt32
			fields sql.NullString
		)
		if err := rows.Scan(&p.JD, &p.ProgramID, &candid, &fid, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan history for %s: %w", objectID, err)
		}
		if candid.Valid {
			p.Candid = candid.Int64
		}
		if fid.Valid {
			p.FID = int(fid.Int32)
		}
		if fields.Valid && fields.String != "" && fields.String != "null" {
			if err := json.Unmarshal([]byte(fields.String), &p.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode history fields for %s: %w", objectID, err)
			}
		}
		aux.PrvCandidates = append(aux.PrvCandidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history for %s: %w", objectID, err)
	}

	return aux, nil
}
