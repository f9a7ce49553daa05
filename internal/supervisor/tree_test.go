// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/boreal/internal/logging"
)

// blockingService runs until canceled, counting invocations.
type blockingService struct {
	name   string
	starts atomic.Int64
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string {
	return s.name
}

// crashingService fails the first n runs, then blocks.
type crashingService struct {
	remaining atomic.Int64
	starts    atomic.Int64
}

func (s *crashingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return errors.New("synthetic crash")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashingService) String() string {
	return "crashing-service"
}

func testTreeConfig() TreeConfig {
	cfg := DefaultTreeConfig()
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTreeRunsServicesInAllLayers(t *testing.T) {
	t.Parallel()

	tree := NewTree(logging.NewSlogLogger(), testTreeConfig())
	pipeline := &blockingService{name: "pipeline-svc"}
	query := &blockingService{name: "query-svc"}
	api := &blockingService{name: "api-svc"}

	tree.AddPipelineService(pipeline)
	tree.AddQueryService(query)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	waitFor(t, 5*time.Second, func() bool {
		return pipeline.starts.Load() == 1 && query.starts.Load() == 1 && api.starts.Load() == 1
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not shut down")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	t.Parallel()

	tree := NewTree(logging.NewSlogLogger(), testTreeConfig())
	svc := &crashingService{}
	svc.remaining.Store(2)
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	// Two crashes plus the final successful run.
	waitFor(t, 5*time.Second, func() bool {
		return svc.starts.Load() >= 3
	})
}

func TestTreeIsolatesLayerFailures(t *testing.T) {
	t.Parallel()

	tree := NewTree(logging.NewSlogLogger(), testTreeConfig())
	crasher := &crashingService{}
	crasher.remaining.Store(1)
	stable := &blockingService{name: "stable-svc"}

	tree.AddPipelineService(crasher)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, 5*time.Second, func() bool {
		return crasher.starts.Load() >= 2
	})

	// The API layer service was never restarted by the pipeline crash.
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("stable service starts = %d, want 1", got)
	}
}
