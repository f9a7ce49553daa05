// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/boreal/internal/config"
)

// EmbeddedBroker wraps an in-process NATS JetStream server for standalone
// deployments, so a single Boreal instance needs no external broker. The
// choice is made once at startup from configuration; it is never toggled
// on a running process.
type EmbeddedBroker struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedBroker creates and starts the embedded JetStream server.
// Fails if the server is not ready for connections within 30 seconds.
func NewEmbeddedBroker(cfg config.NATSConfig) (*EmbeddedBroker, error) {
	opts := &server.Options{
		ServerName:         "boreal-alerts",
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		// Alert packets carry gzipped cutout stamps; the default 1MB
		// payload ceiling is too small.
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded broker: %w", err)
	}
	ns.ConfigureLogger()

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded broker not ready within timeout")
	}

	return &EmbeddedBroker{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL clients should use.
func (b *EmbeddedBroker) ClientURL() string {
	return b.clientURL
}

// Running reports broker health.
func (b *EmbeddedBroker) Running() bool {
	return b.server.Running()
}

// Shutdown stops the broker, waiting for completion or context expiry.
func (b *EmbeddedBroker) Shutdown(ctx context.Context) error {
	b.server.Shutdown()

	done := make(chan struct{})
	go func() {
		b.server.WaitForShutdown()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
