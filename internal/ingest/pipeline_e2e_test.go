// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/crossmatch"
	"github.com/tomtom215/boreal/internal/filter"
	"github.com/tomtom215/boreal/internal/models"
	"github.com/tomtom215/boreal/internal/store"
)

// TestPipelineEndToEnd drives one packet through the real pipeline: DuckDB
// store, catalog cross-match, filter evaluation, match persistence and
// downstream publication. Only the stream transport is faked.
func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := store.Open(config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "e2e.duckdb"),
		Threads:   2,
		MaxMemory: "256MB",
	})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	// A quasar 1.7 arcsec from where the alert will land.
	if err := db.EnsureCatalogTable(ctx, "milliquas"); err != nil {
		t.Fatalf("EnsureCatalogTable() error = %v", err)
	}
	entry := &models.CatalogEntry{ID: 7, RA: 10.0005, Dec: 20.0, Fields: map[string]any{"z": 1.5}}
	if err := db.InsertCatalogEntry(ctx, "milliquas", entry); err != nil {
		t.Fatalf("InsertCatalogEntry() error = %v", err)
	}

	tmpl := &filter.Template{
		ID:          "bright-real",
		GroupID:     42,
		Catalog:     "ztf",
		Version:     "1",
		Active:      true,
		Permissions: []int{1},
		Stages: []filter.Stage{
			{Match: &filter.MatchStage{
				Predicate: filter.Predicate{Field: "candidate.drb", Op: filter.OpGt, Value: 0.9},
			}},
			{AuxJoin: &filter.AuxJoinStage{}},
		},
	}
	if err := db.RegisterFilter(ctx, tmpl); err != nil {
		t.Fatalf("RegisterFilter() error = %v", err)
	}

	enricher, err := crossmatch.NewEngine(db, config.CrossmatchConfig{
		RadiusArcsec: 2.0,
		Catalogs: map[string]config.CatalogConfig{
			"milliquas": {Projection: []string{"z"}},
		},
		BreakerFailureThreshold: 5,
		BreakerTimeout:          time.Second,
	})
	if err != nil {
		t.Fatalf("crossmatch.NewEngine() error = %v", err)
	}

	engine, err := filter.NewEngine(db, nil, filter.Config{Catalog: "ztf", HistoryWindowDays: 30})
	if err != nil {
		t.Fatalf("filter.NewEngine() error = %v", err)
	}
	if err := engine.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	publisher := &fakePublisher{}
	sub := &fakeSubscription{ch: make(chan *message.Message, 4)}
	dedup := newTestCache(t, config.IngestConfig{DedupCacheTTL: time.Hour})

	c, err := NewCoordinator(sub, db, dedup, enricher, engine, publisher, 2)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	f := &coordinatorFixture{coordinator: c, publisher: publisher, sub: sub}
	runCoordinator(t, f)

	payload := packetPayload(t, 9001, "ZTFe2e")
	if !deliver(t, f, payload) {
		t.Fatal("packet nacked")
	}

	// The alert is durable.
	alert, err := db.GetAlert(ctx, 9001)
	if err != nil {
		t.Fatalf("GetAlert() error = %v", err)
	}
	if alert.ObjectID != "ZTFe2e" || alert.Candidate.DRB != 0.95 {
		t.Errorf("stored alert = %+v", alert)
	}

	// The cross-match landed in the object's aux record.
	aux, err := db.GetAux(ctx, "ZTFe2e")
	if err != nil {
		t.Fatalf("GetAux() error = %v", err)
	}
	quasars := aux.CrossMatches["milliquas"]
	if len(quasars) != 1 {
		t.Fatalf("milliquas matches = %v", aux.CrossMatches)
	}
	if quasars[0]["z"] != 1.5 {
		t.Errorf("projected field z = %v, want 1.5", quasars[0]["z"])
	}

	// The filter matched and the match was persisted and published.
	matches, err := db.ListMatches(ctx, 9001)
	if err != nil {
		t.Fatalf("ListMatches() error = %v", err)
	}
	if len(matches) != 1 || matches[0].FilterID != "bright-real" || matches[0].GroupID != 42 {
		t.Fatalf("matches = %+v", matches)
	}
	if _, ok := matches[0].Output["cross_matches"]; !ok {
		t.Errorf("match output lacks joined cross-matches: %v", matches[0].Output)
	}
	if publisher.count() != 1 {
		t.Fatalf("published = %d, want 1", publisher.count())
	}

	// Redelivery of the same packet changes nothing.
	if !deliver(t, f, payload) {
		t.Fatal("redelivery nacked")
	}
	matches, err = db.ListMatches(ctx, 9001)
	if err != nil {
		t.Fatalf("ListMatches() after redelivery error = %v", err)
	}
	if len(matches) != 1 || publisher.count() != 1 {
		t.Fatalf("redelivery duplicated output: matches=%d published=%d",
			len(matches), publisher.count())
	}
}
