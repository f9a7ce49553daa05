// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/astro"
)

// alertColumns maps query-document field paths to the indexed scalar
// columns of the alerts table. Only these fields are queryable; anything
// else is rejected up front as invalid input, never scanned for.
var alertColumns = map[string]string{
	"candid":              "candid",
	"objectId":            "object_id",
	"candidate.jd":        "jd",
	"candidate.ra":        "ra",
	"candidate.dec":       `"dec"`,
	"candidate.programid": "program_id",
	"candidate.fid":       "fid",
	"candidate.magpsf":    "magpsf",
	"candidate.rb":        "rb",
	"candidate.drb":       "drb",
}

var comparisonOps = map[string]string{
	"eq":  "=",
	"ne":  "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// buildAlertWhere translates a query-document predicate into a WHERE
// clause. The document maps field paths to either a scalar (equality) or
// an operator document, e.g. {"candidate.drb": {"gt": 0.9}}.
func buildAlertWhere(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	// Deterministic clause order keeps query plans and tests stable.
	fields := make([]string, 0, len(filter))
	for f := range filter {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var (
		clauses []string
		args    []any
	)
	for _, field := range fields {
		col, ok := alertColumns[field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unqueryable field %q", ErrInvalidInput, field)
		}

		switch cond := filter[field].(type) {
		case map[string]any:
			// Operator order within a field is sorted for the same reason.
			ops := make([]string, 0, len(cond))
			for op := range cond {
				ops = append(ops, op)
			}
			sort.Strings(ops)

			for _, op := range ops {
				val := cond[op]
				if op == "in" {
					placeholders, inArgs, err := expandIn(val)
					if err != nil {
						return "", nil, fmt.Errorf("%w: field %q: %v", ErrInvalidInput, field, err)
					}
					clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, placeholders))
					args = append(args, inArgs...)
					continue
				}
				sqlOp, ok := comparisonOps[op]
				if !ok {
					return "", nil, fmt.Errorf("%w: unknown operator %q for field %q", ErrInvalidInput, op, field)
				}
				clauses = append(clauses, fmt.Sprintf("%s %s ?", col, sqlOp))
				args = append(args, val)
			}
		default:
			clauses = append(clauses, fmt.Sprintf("%s = ?", col))
			args = append(args, cond)
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func expandIn(val any) (string, []any, error) {
	list, ok := val.([]any)
	if !ok || len(list) == 0 {
		return "", nil, fmt.Errorf("in requires a non-empty array")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
	return placeholders, list, nil
}

// FindAlerts runs a find operation against the alerts table. An empty
// projection returns the full alert documents; otherwise only the named
// queryable fields are returned.
func (db *DB) FindAlerts(ctx context.Context, filter map[string]any, projection []string, limit int) ([]map[string]any, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args, err := buildAlertWhere(filter)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	if len(projection) == 0 {
		query := "SELECT doc FROM alerts" + where + " ORDER BY candid LIMIT ?"
		args = append(args, limit)

		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to find alerts: %w", err)
		}
		defer closeQuietly(rows)

		var out []map[string]any
		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return nil, fmt.Errorf("failed to scan alert doc: %w", err)
			}
			m := map[string]any{}
			if err := json.Unmarshal([]byte(doc), &m); err != nil {
				return nil, fmt.Errorf("failed to decode alert doc: %w", err)
			}
			out = append(out, m)
		}
		return out, rows.Err()
	}

	cols := make([]string, 0, len(projection))
	for _, field := range projection {
		col, ok := alertColumns[field]
		if !ok {
			return nil, fmt.Errorf("%w: unprojectable field %q", ErrInvalidInput, field)
		}
		cols = append(cols, col)
	}

	query := "SELECT " + strings.Join(cols, ", ") + " FROM alerts" + where + " ORDER BY candid LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}
	defer closeQuietly(rows)

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(projection))
		ptrs := make([]any, len(projection))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		m := make(map[string]any, len(projection))
		for i, field := range projection {
			m[field] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountAlerts runs a count operation against the alerts table.
func (db *DB) CountAlerts(ctx context.Context, filter map[string]any) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args, err := buildAlertWhere(filter)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := db.conn.QueryRowContext(ctx, "SELECT count(*) FROM alerts"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// SampleAlerts returns a uniform random sample of alert documents matching
// the predicate.
func (db *DB) SampleAlerts(ctx context.Context, filter map[string]any, limit int) ([]map[string]any, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	where, args, err := buildAlertWhere(filter)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf("SELECT doc FROM alerts%s USING SAMPLE reservoir(%d ROWS)", where, limit)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sample alerts: %w", err)
	}
	defer closeQuietly(rows)

	var out []map[string]any
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan sampled alert: %w", err)
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("failed to decode sampled alert: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// coneBounds computes the coarse RA/Dec bounding box for a cone search.
// The RA padding widens toward the poles; past ±89.9 degrees the box
// degenerates to a full RA sweep.
func coneBounds(ra, dec, radiusDeg float64) (raMin, raMax, decMin, decMax float64) {
	decMin = math.Max(dec-radiusDeg, -90)
	decMax = math.Min(dec+radiusDeg, 90)

	cosDec := math.Cos(dec * math.Pi / 180)
	if math.Abs(dec) > 89.9 || cosDec*180 < radiusDeg {
		return 0, 360, decMin, decMax
	}
	pad := radiusDeg / cosDec
	return ra - pad, ra + pad, decMin, decMax
}

// ConeSearchAlerts returns alerts within radiusArcsec of (ra, dec),
// nearest first. A coarse bounding-box scan over the (ra, "dec") index is
// refined with the exact great-circle separation.
func (db *DB) ConeSearchAlerts(ctx context.Context, ra, dec, radiusArcsec float64, limit int) ([]map[string]any, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	radiusDeg := radiusArcsec / 3600
	raMin, raMax, decMin, decMax := coneBounds(ra, dec, radiusDeg)

	query := `SELECT candid, object_id, jd, ra, "dec" FROM alerts WHERE "dec" BETWEEN ? AND ? AND `
	args := []any{decMin, decMax}
	clause, boxArgs := raBoxClause(raMin, raMax)
	query += clause
	args = append(args, boxArgs...)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed cone search on alerts: %w", err)
	}
	defer closeQuietly(rows)

	var out []map[string]any
	for rows.Next() {
		var (
			candid        int64
			objectID      string
			jd, eRA, eDec float64
		)
		if err := rows.Scan(&candid, &objectID, &jd, &eRA, &eDec); err != nil {
			return nil, fmt.Errorf("failed to scan cone search row: %w", err)
		}
		dist := astro.GreatCircleDistance(ra, dec, eRA, eDec)
		if dist > radiusDeg {
			continue
		}
		out = append(out, map[string]any{
			"candid":          candid,
			"objectId":        objectID,
			"jd":              jd,
			"ra":              eRA,
			"dec":             eDec,
			"distance_arcsec": dist * 3600,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i]["distance_arcsec"].(float64) < out[j]["distance_arcsec"].(float64)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// raBoxClause builds the RA predicate, handling wrap-around at 0/360.
func raBoxClause(raMin, raMax float64) (string, []any) {
	switch {
	case raMin < 0:
		return "(ra >= ? OR ra <= ?)", []any{raMin + 360, raMax}
	case raMax > 360:
		return "(ra >= ? OR ra <= ?)", []any{raMin, raMax - 360}
	default:
		return "ra BETWEEN ? AND ?", []any{raMin, raMax}
	}
}
