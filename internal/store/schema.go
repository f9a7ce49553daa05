// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"fmt"
	"regexp"
)

// Schema notes:
//
//   - alerts carries the indexed scalar columns the filter and query engines
//     range-scan over (epoch, position, program, scores) plus the full packet
//     as JSON. candid is the immutable primary key.
//   - alerts_aux is the first-writer-wins cross-match cache; aux_detections
//     is the append-only prior-detection history, deduplicated on
//     (object_id, jd, program_id).
//   - matches enforces at-most-once per (candid, filter_id) through its
//     primary key; inserts are ON CONFLICT DO NOTHING.
//   - "dec" is quoted throughout: DEC is a type keyword in SQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		candid      BIGINT PRIMARY KEY,
		object_id   VARCHAR NOT NULL,
		jd          DOUBLE NOT NULL,
		ra          DOUBLE NOT NULL,
		"dec"       DOUBLE NOT NULL,
		program_id  INTEGER NOT NULL,
		fid         INTEGER,
		magpsf      DOUBLE,
		rb          DOUBLE,
		drb         DOUBLE,
		doc         JSON NOT NULL,
		ingested_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_object ON alerts (object_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_jd ON alerts (jd)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_jd_drb ON alerts (jd, drb)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_jd_rb ON alerts (jd, rb)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_radec ON alerts (ra, "dec")`,

	`CREATE TABLE IF NOT EXISTS alerts_aux (
		object_id     VARCHAR PRIMARY KEY,
		cross_matches JSON NOT NULL,
		created_at    TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS aux_detections (
		object_id  VARCHAR NOT NULL,
		jd         DOUBLE NOT NULL,
		program_id INTEGER NOT NULL,
		candid     BIGINT,
		fid        INTEGER,
		fields     JSON,
		PRIMARY KEY (object_id, jd, program_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_aux_detections_object ON aux_detections (object_id)`,

	`CREATE TABLE IF NOT EXISTS filters (
		id          VARCHAR PRIMARY KEY,
		group_id    INTEGER NOT NULL,
		catalog     VARCHAR NOT NULL,
		version     VARCHAR NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT true,
		permissions JSON,
		stages      JSON NOT NULL,
		created_at  TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_filters_catalog ON filters (catalog, active)`,

	`CREATE TABLE IF NOT EXISTS matches (
		candid     BIGINT NOT NULL,
		filter_id  VARCHAR NOT NULL,
		group_id   INTEGER NOT NULL,
		output     JSON NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (candid, filter_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_filter ON matches (filter_id)`,

	`CREATE TABLE IF NOT EXISTS queries (
		id          VARCHAR PRIMARY KEY,
		submitter   VARCHAR NOT NULL,
		operation   VARCHAR NOT NULL,
		params      JSON NOT NULL,
		state       VARCHAR NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		result      JSON,
		error       VARCHAR,
		created_at  TIMESTAMP NOT NULL,
		started_at  TIMESTAMP,
		finished_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queries_state ON queries (state, created_at)`,
}

func (db *DB) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// catalogNameRe restricts catalog table names to safe identifiers; catalog
// names come from configuration and are interpolated into SQL.
var catalogNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validCatalogName reports whether name is usable as a catalog table name.
func validCatalogName(name string) bool {
	return catalogNameRe.MatchString(name)
}

// EnsureCatalogTable creates the table for a reference catalog if it does
// not exist. Catalogs are pre-loaded and read-only in production; this
// exists for test fixtures and first-run bootstrap.
func (db *DB) EnsureCatalogTable(ctx context.Context, catalog string) error {
	if !validCatalogName(catalog) {
		return fmt.Errorf("%w: invalid catalog name %q", ErrInvalidInput, catalog)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_%s (
		id     BIGINT PRIMARY KEY,
		ra     DOUBLE NOT NULL,
		"dec"  DOUBLE NOT NULL,
		fields JSON
	)`, catalog)
	if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create catalog table %s: %w", catalog, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_catalog_%s_radec ON catalog_%s (ra, "dec")`,
		catalog, catalog)
	if _, err := db.conn.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("failed to index catalog table %s: %w", catalog, err)
	}
	return nil
}
