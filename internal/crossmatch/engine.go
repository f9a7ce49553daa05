// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package crossmatch enriches alerts with reference-catalog context.
//
// Cross-match results are a property of the object, not the alert: every
// detection of one object sits at the same sky position, so the catalogs
// are searched once per object and the result is cached first-writer-wins
// in the aux store. Concurrent detections of a new object may race; both
// compute, one caches, and every filter evaluation afterwards sees the
// single cached result.
package crossmatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/boreal/internal/astro"
	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// Searcher is the slice of the store the engine needs.
type Searcher interface {
	ConeSearchCatalog(ctx context.Context, catalog string, ra, dec, radiusArcsec float64, projection []string, constraints map[string]any) ([]models.CatalogEntry, error)
	HasAuxCrossMatches(ctx context.Context, objectID string) (bool, error)
	InsertAuxCrossMatches(ctx context.Context, objectID string, xmatches map[string][]map[string]any) (bool, error)
}

// Engine runs the configured catalog searches behind a circuit breaker.
type Engine struct {
	store   Searcher
	cfg     config.CrossmatchConfig
	breaker *gobreaker.CircuitBreaker[[]models.CatalogEntry]
}

// NewEngine creates a cross-match engine for the configured catalogs.
func NewEngine(store Searcher, cfg config.CrossmatchConfig) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("crossmatch: store required")
	}
	if cfg.RadiusArcsec <= 0 {
		return nil, fmt.Errorf("crossmatch: radius must be positive")
	}
	for name, catalog := range cfg.Catalogs {
		ell := catalog.Ellipse
		if ell == nil {
			continue
		}
		if ell.SizeField == "" || ell.RatioField == "" || ell.AngleField == "" {
			return nil, fmt.Errorf("crossmatch: catalog %s: ellipse matching needs size, ratio and angle fields", name)
		}
	}

	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]models.CatalogEntry](gobreaker.Settings{
		Name:    "catalog-cone-search",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Engine{store: store, cfg: cfg, breaker: breaker}, nil
}

// Enrich ensures the alert's object has cached cross-match results.
//
// Already-enriched objects are a cache hit and cost one existence probe.
// Otherwise every configured catalog is cone-searched at the alert
// position; a failure in any catalog aborts the enrichment without caching
// a partial result, so a retry recomputes everything. Returns whether this
// call performed (rather than reused) the search.
func (e *Engine) Enrich(ctx context.Context, alert *models.Alert) (bool, error) {
	cached, err := e.store.HasAuxCrossMatches(ctx, alert.ObjectID)
	if err != nil {
		return false, fmt.Errorf("crossmatch: probe %s: %w", alert.ObjectID, err)
	}
	if cached {
		metrics.CrossmatchCacheHits.Inc()
		return false, nil
	}

	xmatches, err := e.Search(ctx, alert.Candidate.RA, alert.Candidate.Dec)
	if err != nil {
		return false, err
	}

	won, err := e.store.InsertAuxCrossMatches(ctx, alert.ObjectID, xmatches)
	if err != nil {
		return false, fmt.Errorf("crossmatch: cache %s: %w", alert.ObjectID, err)
	}
	if !won {
		// Lost the race with a concurrent detection of the same object.
		metrics.CrossmatchCacheHits.Inc()
	}
	return true, nil
}

// Search cone-searches every configured catalog at (ra, dec) and returns
// the projected entries keyed by catalog name. Catalogs with no neighbors
// get an empty (non-nil) slice so absence is cached too.
func (e *Engine) Search(ctx context.Context, ra, dec float64) (map[string][]map[string]any, error) {
	xmatches := make(map[string][]map[string]any, len(e.cfg.Catalogs))
	for name, catalog := range e.cfg.Catalogs {
		entries, err := e.searchCatalog(ctx, name, catalog, ra, dec)
		if err != nil {
			return nil, fmt.Errorf("crossmatch: catalog %s: %w", name, err)
		}

		projected := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			projected = append(projected, entryDocument(&entry))
		}
		xmatches[name] = projected
	}
	return xmatches, nil
}

func (e *Engine) searchCatalog(ctx context.Context, name string, catalog config.CatalogConfig, ra, dec float64) ([]models.CatalogEntry, error) {
	radius := catalog.RadiusArcsec
	if radius <= 0 {
		radius = e.cfg.RadiusArcsec
	}
	projection := catalog.Projection
	if catalog.Ellipse != nil && len(projection) > 0 {
		projection = withEllipseFields(projection, catalog.Ellipse)
	}

	start := time.Now()
	entries, err := e.breaker.Execute(func() ([]models.CatalogEntry, error) {
		return e.store.ConeSearchCatalog(ctx, name, ra, dec, radius,
			projection, catalog.Filter)
	})
	metrics.ConeSearchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if catalog.Ellipse != nil {
		entries = refineEllipse(entries, ra, dec, catalog.Ellipse)
	}
	return entries, nil
}

// withEllipseFields extends an explicit projection with the fields the
// ellipse test reads, so the refinement always sees them.
func withEllipseFields(projection []string, ell *config.EllipseConfig) []string {
	out := append([]string(nil), projection...)
	for _, field := range []string{ell.SizeField, ell.RatioField, ell.AngleField} {
		seen := false
		for _, p := range out {
			if p == field {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, field)
		}
	}
	return out
}

// refineEllipse keeps only the entries whose scaled ellipse contains the
// alert position. Entries missing the ellipse fields never match.
func refineEllipse(entries []models.CatalogEntry, ra, dec float64, ell *config.EllipseConfig) []models.CatalogEntry {
	scale := ell.SizeScale
	if scale <= 0 {
		scale = 1.0
	}

	kept := entries[:0]
	for _, entry := range entries {
		size, okSize := fieldFloat(entry.Fields, ell.SizeField)
		ratio, okRatio := fieldFloat(entry.Fields, ell.RatioField)
		angle, okAngle := fieldFloat(entry.Fields, ell.AngleField)
		if !okSize || !okRatio || !okAngle {
			continue
		}
		if astro.InEllipse(ra, dec, entry.RA, entry.Dec, size*scale, ratio, angle) {
			kept = append(kept, entry)
		}
	}
	return kept
}

func fieldFloat(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// entryDocument flattens a catalog entry into the document shape stored in
// the aux cache and joined into filter evaluation.
func entryDocument(entry *models.CatalogEntry) map[string]any {
	doc := make(map[string]any, len(entry.Fields)+4)
	for k, v := range entry.Fields {
		doc[k] = v
	}
	doc["_id"] = entry.ID
	doc["ra"] = entry.RA
	doc["dec"] = entry.Dec
	doc["distance_arcsec"] = entry.DistanceArcsec
	return doc
}
