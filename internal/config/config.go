// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

// Package config provides layered configuration for the Boreal binaries.
//
// Precedence: environment variables > YAML config file > built-in defaults.
// Loading is done with Koanf v2; the resulting Config is validated with
// go-playground/validator before either binary starts any service.
package config

import (
	"time"
)

// Config is the root configuration shared by cmd/ingest and cmd/api.
// Each binary reads only the sections it needs.
type Config struct {
	NATS       NATSConfig       `koanf:"nats"`
	Database   DatabaseConfig   `koanf:"database"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Crossmatch CrossmatchConfig `koanf:"crossmatch"`
	Filters    FiltersConfig    `koanf:"filters"`
	Query      QueryConfig      `koanf:"query"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// NATSConfig configures the alert stream transport.
type NATSConfig struct {
	URL string `koanf:"url" validate:"required"`

	// EmbeddedServer starts an in-process JetStream broker (standalone
	// deployments). When false the process connects to an external broker.
	// This is an explicit startup flag threaded into construction, never a
	// process-wide mutable switch.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	// Topic is the alert packet subject; StreamName binds the subscriber to
	// an existing JetStream stream when set.
	Topic      string `koanf:"topic" validate:"required"`
	StreamName string `koanf:"stream_name"`

	// DurableName and QueueGroup form the named consumer group: multiple
	// ingest processes share partitions without duplicate delivery.
	DurableName      string `koanf:"durable_name" validate:"required"`
	QueueGroup       string `koanf:"queue_group" validate:"required"`
	SubscribersCount int    `koanf:"subscribers_count" validate:"gte=1"`

	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`

	// PublishTopicPrefix is the subject prefix for downstream match
	// notifications ("<prefix>.<group id>").
	PublishTopicPrefix string `koanf:"publish_topic_prefix"`

	// PublishRatePerSecond caps downstream publishing; 0 means unlimited.
	PublishRatePerSecond float64 `koanf:"publish_rate_per_second" validate:"gte=0"`
}

// DatabaseConfig configures the DuckDB alert store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads <= 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// IngestConfig configures the ingestion coordinator.
type IngestConfig struct {
	// MaxInFlight bounds concurrent per-packet pipelines. When the pool is
	// saturated further stream reads block (backpressure) instead of
	// buffering unboundedly.
	MaxInFlight int `koanf:"max_in_flight" validate:"gte=1"`

	// DedupCacheDir is the Badger directory for the seen-candid fast path;
	// empty selects an in-memory cache.
	DedupCacheDir string        `koanf:"dedup_cache_dir"`
	DedupCacheTTL time.Duration `koanf:"dedup_cache_ttl"`
}

// CrossmatchConfig configures catalog cone searches. Catalogs are declared
// here, not in code: adding one requires only a projection (and optional
// predicate) entry plus the pre-loaded catalog table.
type CrossmatchConfig struct {
	// RadiusArcsec is the cone-search radius applied to every catalog.
	RadiusArcsec float64 `koanf:"radius_arcsec" validate:"gt=0"`

	Catalogs map[string]CatalogConfig `koanf:"catalogs"`

	// Breaker settings guard the catalog store.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// CatalogConfig declares one cross-match catalog.
type CatalogConfig struct {
	// Projection lists the catalog fields attached to cross-match results.
	Projection []string `koanf:"projection"`

	// Filter is an optional static predicate (field -> required value)
	// applied to candidate entries; empty by default.
	Filter map[string]any `koanf:"filter"`

	// RadiusArcsec overrides the global cone-search radius for this
	// catalog; 0 uses the global radius. Extended-source catalogs need a
	// coarse radius covering the largest object ellipse.
	RadiusArcsec float64 `koanf:"radius_arcsec" validate:"gte=0"`

	// Ellipse switches the catalog to extended-source matching: cone-search
	// candidates are kept only if the alert position falls inside the
	// entry's scaled ellipse. Nil means plain radial matching.
	Ellipse *EllipseConfig `koanf:"ellipse"`
}

// EllipseConfig names the catalog fields describing each entry's ellipse.
// Galaxy catalogs carry a size, an axis ratio and a position angle; an
// alert matches an entry when it lies inside that ellipse rather than
// within a fixed radius.
type EllipseConfig struct {
	// SizeField is the major-axis diameter field.
	SizeField string `koanf:"size_field" validate:"required"`

	// RatioField is the minor-to-major axis ratio field (0, 1].
	RatioField string `koanf:"ratio_field" validate:"required"`

	// AngleField is the position angle field, degrees east of north.
	AngleField string `koanf:"angle_field" validate:"required"`

	// SizeScale converts the size field into a matching diameter in
	// degrees: unit conversion times safety margin (e.g. 3.0/60 for a size
	// in arcmin matched out to three times the catalog extent). <= 0 means
	// the field is already degrees, unscaled.
	SizeScale float64 `koanf:"size_scale" validate:"gte=0"`
}

// FiltersConfig configures the filter engine.
type FiltersConfig struct {
	// Catalog scopes which filter templates this broker loads and
	// evaluates against the alert stream.
	Catalog string `koanf:"catalog" validate:"required"`

	// HistoryWindowDays bounds the prv_candidates join: entries with
	// jd_alert - jd_entry >= window are excluded.
	HistoryWindowDays float64 `koanf:"history_window_days" validate:"gt=0"`

	// ReloadInterval controls how often active filters are re-read from
	// the store; 0 disables periodic reload.
	ReloadInterval time.Duration `koanf:"reload_interval"`
}

// QueryConfig configures the query queue and executor.
type QueryConfig struct {
	Workers int `koanf:"workers" validate:"gte=1"`

	// MaxTime is the hard wall-clock budget per execution attempt.
	MaxTime time.Duration `koanf:"max_time" validate:"gt=0"`

	// MaxRetries bounds retry attempts for transient store errors.
	MaxRetries int           `koanf:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `koanf:"retry_delay"`

	// ExpirationInterval is how long a job may sit in queued/running
	// before the reaper forces it to expired.
	ExpirationInterval time.Duration `koanf:"expiration_interval" validate:"gt=0"`
	ReapInterval       time.Duration `koanf:"reap_interval" validate:"gt=0"`

	// Retention is how long terminal jobs are kept before purging.
	Retention time.Duration `koanf:"retention"`

	// MaxResultRows caps the rows a single job may return.
	MaxResultRows int `koanf:"max_result_rows" validate:"gte=1"`
}

// ServerConfig configures the query API HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:                  "nats://127.0.0.1:4222",
			EmbeddedServer:       true,
			StoreDir:             "/data/nats/jetstream",
			MaxMemory:            1 << 30,  // 1GB
			MaxStore:             10 << 30, // 10GB
			Topic:                "alerts.packets",
			StreamName:           "",
			DurableName:          "alert-ingester",
			QueueGroup:           "ingesters",
			SubscribersCount:     4,
			AckWaitTimeout:       30 * time.Second,
			CloseTimeout:         30 * time.Second,
			MaxReconnects:        -1,
			ReconnectWait:        2 * time.Second,
			PublishTopicPrefix:   "alerts.matches",
			PublishRatePerSecond: 0, // Unlimited
		},
		Database: DatabaseConfig{
			Path:      "/data/boreal.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Ingest: IngestConfig{
			MaxInFlight:   8,
			DedupCacheDir: "", // in-memory
			DedupCacheTTL: 24 * time.Hour,
		},
		Crossmatch: CrossmatchConfig{
			RadiusArcsec: 2.0,
			Catalogs:     map[string]CatalogConfig{},

			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Filters: FiltersConfig{
			Catalog:           "ztf",
			HistoryWindowDays: 30,
			ReloadInterval:    time.Minute,
		},
		Query: QueryConfig{
			Workers:            4,
			MaxTime:            500 * time.Millisecond,
			MaxRetries:         3,
			RetryDelay:         250 * time.Millisecond,
			ExpirationInterval: 5 * time.Minute,
			ReapInterval:       30 * time.Second,
			Retention:          24 * time.Hour,
			MaxResultRows:      1000,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4000,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
