// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// Store is the slice of the alert store the engine needs: the set of
// active filter templates for a catalog.
type Store interface {
	ListActiveFilters(ctx context.Context, catalog string) ([]Template, error)
}

// PermissionsResolver supplies the authorized program-id set for a group,
// used to bind templates whose allow-list is parameterized.
type PermissionsResolver func(groupID int) []int

// Config configures the filter engine.
type Config struct {
	// Catalog scopes the engine: only filters authored for this catalog
	// are loaded and evaluated.
	Catalog string

	// HistoryWindowDays is the default prv_candidates window.
	HistoryWindowDays float64

	// ReloadInterval controls periodic template reload; 0 disables it.
	ReloadInterval time.Duration
}

// Engine evaluates every active, bound filter against each enriched alert.
// Filters are read-only at evaluation time; Reload swaps the whole set
// atomically.
type Engine struct {
	store   Store
	resolve PermissionsResolver
	cfg     Config

	mu      sync.RWMutex
	filters []*Filter
}

// NewEngine creates a filter engine. resolve may be nil when all templates
// carry authored permissions.
func NewEngine(store Store, resolve PermissionsResolver, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("filter: store required")
	}
	if cfg.Catalog == "" {
		return nil, fmt.Errorf("filter: catalog required")
	}
	if cfg.HistoryWindowDays <= 0 {
		cfg.HistoryWindowDays = 30
	}
	return &Engine{store: store, resolve: resolve, cfg: cfg}, nil
}

// Reload re-reads the active templates, validates and binds them, and
// atomically replaces the evaluation set. Templates that fail validation
// or binding are skipped and logged; they never abort the reload.
func (e *Engine) Reload(ctx context.Context) error {
	templates, err := e.store.ListActiveFilters(ctx, e.cfg.Catalog)
	if err != nil {
		return fmt.Errorf("filter: load templates: %w", err)
	}

	bound := make([]*Filter, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		if err := t.Validate(); err != nil {
			logging.Warn().Err(err).Str("filter_id", t.ID).Msg("Skipping malformed filter")
			continue
		}

		var programIDs []int
		if t.Permissions == nil && e.resolve != nil {
			programIDs = e.resolve(t.GroupID)
		}
		f, err := t.Bind(programIDs)
		if err != nil {
			logging.Warn().Err(err).Str("filter_id", t.ID).Msg("Skipping unbindable filter template")
			continue
		}
		bound = append(bound, f)
	}

	e.mu.Lock()
	e.filters = bound
	e.mu.Unlock()

	logging.Debug().Int("count", len(bound)).Str("catalog", e.cfg.Catalog).Msg("Filter set reloaded")
	return nil
}

// Filters returns the current evaluation set.
func (e *Engine) Filters() []*Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filters
}

// EvaluateAlert runs every loaded filter against one enriched alert and
// returns the match records to persist. A failing filter is isolated: the
// error is logged and counted, and evaluation of the remaining filters
// continues. Evaluation order across filters is unspecified.
func (e *Engine) EvaluateAlert(alert *models.Alert, aux *models.AlertAux) []models.MatchResult {
	e.mu.RLock()
	filters := e.filters
	e.mu.RUnlock()

	var results []models.MatchResult
	for _, f := range filters {
		output, matched, err := Evaluate(f, alert, aux, e.cfg.HistoryWindowDays)
		if err != nil {
			metrics.FilterEvalErrors.WithLabelValues(f.ID).Inc()
			logging.Error().Err(err).
				Str("filter_id", f.ID).
				Int64("candid", alert.Candid).
				Msg("Filter evaluation failed")
			continue
		}
		if !matched {
			continue
		}

		metrics.FilterMatches.WithLabelValues(f.ID).Inc()
		results = append(results, models.MatchResult{
			Candid:   alert.Candid,
			FilterID: f.ID,
			GroupID:  f.GroupID,
			Output:   output,
		})
	}
	return results
}

// Run reloads the filter set once at startup and then periodically until
// the context is canceled. Implements suture.Service.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Reload(ctx); err != nil {
		return err
	}
	if e.cfg.ReloadInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(e.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Reload(ctx); err != nil {
				logging.Warn().Err(err).Msg("Filter reload failed, keeping previous set")
			}
		}
	}
}

// Serve implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	return e.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (e *Engine) String() string {
	return "filter-engine:" + e.cfg.Catalog
}
