// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package main is the entry point for the Boreal alert ingestion binary.
//
// The ingester consumes alert packets from a NATS JetStream subject, runs
// each packet through the ingestion pipeline (decode, dedup, catalog
// cross-match, persistence, filter evaluation) and publishes match
// notifications downstream. With nats.embedded_server enabled it also runs
// an in-process JetStream broker, so a standalone deployment needs no
// external messaging infrastructure.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
//
// The process shuts down gracefully on SIGINT and SIGTERM: stream
// consumption stops, in-flight pipelines drain, then the store, dedup
// cache and broker close in order.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/crossmatch"
	"github.com/tomtom215/boreal/internal/filter"
	"github.com/tomtom215/boreal/internal/ingest"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/store"
	"github.com/tomtom215/boreal/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("topic", cfg.NATS.Topic).
		Str("db_path", cfg.Database.Path).
		Bool("embedded_broker", cfg.NATS.EmbeddedServer).
		Msg("Starting Boreal ingester")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Ingester failed")
	}
	logging.Info().Msg("Ingester stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Standalone deployments start their own JetStream broker; the client
	// URL then points at the in-process listener.
	if cfg.NATS.EmbeddedServer {
		broker, err := ingest.NewEmbeddedBroker(cfg.NATS)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.NATS.CloseTimeout)
			defer cancel()
			if err := broker.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Broker shutdown failed")
			}
		}()
		cfg.NATS.URL = broker.ClientURL()
		logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded JetStream broker running")
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// Catalog tables must exist before the first cone search; bootstrap
	// tooling loads the actual rows.
	for name := range cfg.Crossmatch.Catalogs {
		if err := db.EnsureCatalogTable(ctx, name); err != nil {
			return err
		}
	}

	dedup, err := ingest.NewDedupCache(cfg.Ingest)
	if err != nil {
		return err
	}
	defer func() {
		if err := dedup.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dedup cache")
		}
	}()

	enricher, err := crossmatch.NewEngine(db, cfg.Crossmatch)
	if err != nil {
		return err
	}

	filters, err := filter.NewEngine(db, nil, filter.Config{
		Catalog:           cfg.Filters.Catalog,
		HistoryWindowDays: cfg.Filters.HistoryWindowDays,
		ReloadInterval:    cfg.Filters.ReloadInterval,
	})
	if err != nil {
		return err
	}

	wmLogger := logging.NewWatermillAdapter()
	sub, err := ingest.NewSubscriber(cfg.NATS, wmLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}()

	var publisher ingest.Publisher
	if cfg.NATS.PublishTopicPrefix != "" {
		pub, err := ingest.NewMatchPublisher(cfg.NATS, wmLogger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing match publisher")
			}
		}()
		publisher = pub
	}

	coordinator, err := ingest.NewCoordinator(sub, db, dedup, enricher, filters, publisher,
		cfg.Ingest.MaxInFlight)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: 10 * time.Second,
	})
	tree.AddPipelineService(filters)
	tree.AddPipelineService(coordinator)

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	return err
}
