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

	"github.com/tomtom215/boreal/internal/filter"
)

// RegisterFilter validates and persists a filter template. Validation
// happens here, at registration time: a malformed pipeline is rejected
// before it can ever reach alert processing. Re-registering an id replaces
// the stored template (versioned by the caller).
func (db *DB) RegisterFilter(ctx context.Context, t *filter.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stages, err := filter.EncodeStages(t.Stages)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var permissions any
	if t.Permissions != nil {
		perms, err := json.Marshal(t.Permissions)
		if err != nil {
			return fmt.Errorf("%w: marshal permissions: %v", ErrInvalidInput, err)
		}
		permissions = string(perms)
	}

	query := `INSERT INTO filters (id, group_id, catalog, version, active, permissions, stages, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			group_id = excluded.group_id,
			catalog = excluded.catalog,
			version = excluded.version,
			active = excluded.active,
			permissions = excluded.permissions,
			stages = excluded.stages`

	_, err = db.conn.ExecContext(ctx, query,
		t.ID, t.GroupID, t.Catalog, t.Version, t.Active, permissions, string(stages), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to register filter %s: %w", t.ID, err)
	}
	return nil
}

// ListActiveFilters returns the active filter templates for a catalog.
// Implements filter.Store.
func (db *DB) ListActiveFilters(ctx context.Context, catalog string) ([]filter.Template, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, group_id, catalog, version, active, permissions, stages
		 FROM filters WHERE catalog = ? AND active ORDER BY id`, catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters for %s: %w", catalog, err)
	}
	defer closeQuietly(rows)

	var templates []filter.Template
	for rows.Next() {
		var (
			t           filter.Template
			permissions sql.NullString
			stages      string
		)
		if err := rows.Scan(&t.ID, &t.GroupID, &t.Catalog, &t.Version, &t.Active, &permissions, &stages); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		if permissions.Valid && permissions.String != "" && permissions.String != "null" {
			if err := json.Unmarshal([]byte(permissions.String), &t.Permissions); err != nil {
				return nil, fmt.Errorf("failed to decode permissions for filter %s: %w", t.ID, err)
			}
		}
		t.Stages, err = filter.ParseStages([]byte(stages))
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", t.ID, err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate filters: %w", err)
	}
	return templates, nil
}

// GetFilter retrieves one filter template by id.
func (db *DB) GetFilter(ctx context.Context, id string) (*filter.Template, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		t           filter.Template
		permissions sql.NullString
		stages      string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, group_id, catalog, version, active, permissions, stages
		 FROM filters WHERE id = ?`, id).
		Scan(&t.ID, &t.GroupID, &t.Catalog, &t.Version, &t.Active, &permissions, &stages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filter %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filter %s: %w", id, err)
	}

	if permissions.Valid && permissions.String != "" && permissions.String != "null" {
		if err := json.Unmarshal([]byte(permissions.String), &t.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions for filter %s: %w", id, err)
		}
	}
	if t.Stages, err = filter.ParseStages([]byte(stages)); err != nil {
		return nil, fmt.Errorf("filter %s: %w", id, err)
	}
	return &t, nil
}
