// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/astro"
	"github.com/tomtom215/boreal/internal/models"
)

// ConeSearchCatalog returns the entries of a reference catalog within
// radiusArcsec of (ra, dec), nearest first. The coarse bounding-box scan
// uses the catalog's (ra, "dec") index; candidates are then refined with
// the exact great-circle separation.
//
// projection selects which keys of the entry's fields document survive
// into the result (empty keeps everything). constraints is an optional
// equality predicate over those fields, applied after the positional
// match.
func (db *DB) ConeSearchCatalog(ctx context.Context, catalog string, ra, dec, radiusArcsec float64, projection []string, constraints map[string]any) ([]models.CatalogEntry, error) {
	if !validCatalogName(catalog) {
		return nil, fmt.Errorf("%w: invalid catalog name %q", ErrInvalidInput, catalog)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	radiusDeg := radiusArcsec / 3600
	raMin, raMax, decMin, decMax := coneBounds(ra, dec, radiusDeg)
	clause, boxArgs := raBoxClause(raMin, raMax)

	query := fmt.Sprintf(`SELECT id, ra, "dec", fields FROM catalog_%s WHERE "dec" BETWEEN ? AND ? AND %s`,
		catalog, clause)
	args := append([]any{decMin, decMax}, boxArgs...)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed cone search on catalog %s: %w", catalog, err)
	}
	defer closeQuietly(rows)

	var entries []models.CatalogEntry
	for rows.Next() {
		var (
			entry  models.CatalogEntry
			fields []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RA, &entry.Dec, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan catalog %s row: %w", catalog, err)
		}
		dist := astro.GreatCircleDistance(ra, dec, entry.RA, entry.Dec)
		if dist > radiusDeg {
			continue
		}

		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &entry.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode catalog %s entry %d: %w", catalog, entry.ID, err)
			}
		}
		if !matchesConstraints(&entry, constraints) {
			continue
		}
		entry.Fields = projectFields(entry.Fields, projection)
		entry.DistanceArcsec = dist * 3600
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog %s: %w", catalog, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DistanceArcsec < entries[j].DistanceArcsec
	})
	return entries, nil
}

// matchesConstraints applies an equality predicate over the entry's fields
// document. The synthetic keys id, ra and dec address the fixed columns.
func matchesConstraints(entry *models.CatalogEntry, constraints map[string]any) bool {
	for key, want := range constraints {
		var got any
		switch key {
		case "id":
			got = entry.ID
		case "ra":
			got = entry.RA
		case "dec":
			got = entry.Dec
		default:
			var ok bool
			got, ok = entry.Fields[key]
			if !ok {
				return false
			}
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares values the way JSON round-trips produce them:
// numeric values compare by magnitude regardless of Go type.
func looseEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func projectFields(fields map[string]any, projection []string) map[string]any {
	if len(projection) == 0 || fields == nil {
		return fields
	}
	out := make(map[string]any, len(projection))
	for _, key := range projection {
		if v, ok := fields[key]; ok {
			out[key] = v
		}
	}
	return out
}

// InsertCatalogEntry loads one entry into a reference catalog. Production
// catalogs arrive through bulk COPY; this is the bootstrap and fixture
// path.
func (db *DB) InsertCatalogEntry(ctx context.Context, catalog string, entry *models.CatalogEntry) error {
	if !validCatalogName(catalog) {
		return fmt.Errorf("%w: invalid catalog name %q", ErrInvalidInput, catalog)
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var fields any
	if entry.Fields != nil {
		data, err := json.Marshal(entry.Fields)
		if err != nil {
			return fmt.Errorf("%w: marshal catalog fields: %v", ErrInvalidInput, err)
		}
		fields = string(data)
	}

	stmt := fmt.Sprintf(`INSERT INTO catalog_%s (id, ra, "dec", fields) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, catalog)
	if _, err := db.conn.ExecContext(ctx, stmt, entry.ID, entry.RA, entry.Dec, fields); err != nil {
		return fmt.Errorf("failed to insert into catalog %s: %w", catalog, err)
	}
	return nil
}
