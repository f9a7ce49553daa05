// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package api exposes the query HTTP surface: asynchronous job submission
// and retrieval, health, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/boreal/internal/config"
	"github.com/tomtom215/boreal/internal/logging"
	"github.com/tomtom215/boreal/internal/metrics"
	"github.com/tomtom215/boreal/internal/models"
)

// JobQueue accepts query jobs for asynchronous execution.
type JobQueue interface {
	Submit(ctx context.Context, job *models.QueryJob) error
	Depth() int
}

// JobStore reads job state back for status polling.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.QueryJob, error)
	Ping(ctx context.Context) error
}

// Server is the query API HTTP server. Submissions return immediately with
// a job id; clients poll the job endpoint for the result.
type Server struct {
	queue JobQueue
	store JobStore
	cfg   config.ServerConfig
}

// NewServer creates a query API server.
func NewServer(queue JobQueue, store JobStore, cfg config.ServerConfig) (*Server, error) {
	if queue == nil {
		return nil, errors.New("api: job queue required")
	}
	if store == nil {
		return nil, errors.New("api: job store required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("api: invalid port %d", cfg.Port)
	}
	return &Server{queue: queue, store: store, cfg: cfg}, nil
}

// Router builds the Chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1/queries", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post("/", s.handleSubmitQuery)
		r.Get("/{id}", s.handleGetQuery)
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records per-request latency labeled by the matched route
// pattern, so path parameters don't explode the cardinality.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("Query API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Query API shutdown incomplete")
	}
	return ctx.Err()
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *Server) String() string {
	return "query-api"
}
