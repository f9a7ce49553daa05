// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package main is the entry point for the Boreal query API binary.
//
// The API accepts asynchronous query jobs over HTTP, executes them against
// the alert store with a worker pool under hard per-attempt time budgets,
// and enforces bounded job lifetime with a background reaper. Jobs that
// were queued when the previous process stopped are restored from the
// store on startup, so submissions survive restarts.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/boreal/internal/api"
	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/executor"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/queue"
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
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Int("workers", cfg.Query.Workers).
		Msg("Starting Boreal query API")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Query API failed")
	}
	logging.Info().Msg("Query API stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	jobs, err := queue.New(db, nil)
	if err != nil {
		return err
	}
	restored, err := jobs.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		logging.Info().Int("count", restored).Msg("Restored queued jobs from store")
	}

	// The reaper evicts expired queued jobs from the in-memory queue so
	// depth reflects only runnable work.
	reaper, err := queue.NewReaper(db, jobs, nil, cfg.Query)
	if err != nil {
		return err
	}

	exec, err := executor.New(db, jobs, nil, cfg.Query)
	if err != nil {
		return err
	}

	server, err := api.NewServer(jobs, db, cfg.Server)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: 10 * time.Second,
	})
	tree.AddQueryService(reaper)
	tree.AddQueryService(exec)
	tree.AddAPIService(server)

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	return err
}
