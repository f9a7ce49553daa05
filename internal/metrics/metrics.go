// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package metrics exposes Prometheus instrumentation for the broker:
// ingestion throughput and drops, dedup effectiveness, crossmatch latency,
// filter matches, queue depth and job outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	PacketsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boreal_packets_consumed_total",
			Help: "Total alert packets read from the stream",
		},
	)

	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boreal_packets_dropped_total",
			Help: "Total packets dropped without ingestion",
		},
		[]string{"reason"}, // "invalid"
	)

	PacketsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boreal_packets_duplicate_total",
			Help: "Total packets short-circuited as already-seen candids",
		},
		[]string{"tier"}, // "cache", "store"
	)

	AlertsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boreal_alerts_ingested_total",
			Help: "Total alerts durably written to the store",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boreal_pipeline_duration_seconds",
			Help:    "End-to-end per-packet pipeline duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Crossmatch metrics
	ConeSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boreal_cone_search_duration_seconds",
			Help:    "Cone search duration per catalog",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"catalog"},
	)

	CrossmatchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boreal_crossmatch_cache_hits_total",
			Help: "Cross-match lookups served from the per-object aux cache",
		},
	)

	// Filter metrics
	FilterMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boreal_filter_matches_total",
			Help: "Total filter matches recorded",
		},
		[]string{"filter_id"},
	)

	FilterEvalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boreal_filter_eval_errors_total",
			Help: "Filter evaluations that failed",
		},
		[]string{"filter_id"},
	)

	MatchesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boreal_matches_published_total",
			Help: "Match notifications forwarded downstream",
		},
	)

	// Query queue / executor metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boreal_query_queue_depth",
			Help: "Jobs currently queued for execution",
		},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boreal_query_jobs_total",
			Help: "Query jobs by terminal state",
		},
		[]string{"state"}, // "succeeded", "failed", "expired"
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boreal_query_job_duration_seconds",
			Help:    "Wall-clock duration of query job execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boreal_query_job_retries_total",
			Help: "Transient-failure retries across all jobs",
		},
	)

	// Query API metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boreal_http_request_duration_seconds",
			Help:    "HTTP request duration by route, method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)
