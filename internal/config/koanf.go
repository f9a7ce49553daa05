// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/boreal/config.yaml",
	"/etc/boreal/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - NATS_URL -> nats.url
//   - DUCKDB_PATH -> database.path
//   - QUERY_MAX_TIME -> query.max_time
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// NATS / stream mappings
		"nats_url":               "nats.url",
		"nats_embedded":          "nats.embedded_server",
		"nats_store_dir":         "nats.store_dir",
		"nats_max_memory":        "nats.max_memory",
		"nats_max_store":         "nats.max_store",
		"nats_topic":             "nats.topic",
		"nats_stream_name":       "nats.stream_name",
		"nats_durable_name":      "nats.durable_name",
		"nats_queue_group":       "nats.queue_group",
		"nats_subscribers":       "nats.subscribers_count",
		"nats_ack_wait":          "nats.ack_wait_timeout",
		"nats_close_timeout":     "nats.close_timeout",
		"nats_max_reconnects":    "nats.max_reconnects",
		"nats_reconnect_wait":    "nats.reconnect_wait",
		"nats_publish_prefix":    "nats.publish_topic_prefix",
		"nats_publish_rate":      "nats.publish_rate_per_second",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Ingest mappings
		"ingest_max_in_flight":   "ingest.max_in_flight",
		"ingest_dedup_cache_dir": "ingest.dedup_cache_dir",
		"ingest_dedup_cache_ttl": "ingest.dedup_cache_ttl",

		// Crossmatch mappings
		"xmatch_radius_arcsec":     "crossmatch.radius_arcsec",
		"xmatch_breaker_threshold": "crossmatch.breaker_failure_threshold",
		"xmatch_breaker_timeout":   "crossmatch.breaker_timeout",

		// Filter engine mappings
		"filters_history_window_days": "filters.history_window_days",
		"filters_reload_interval":     "filters.reload_interval",

		// Query queue / executor mappings
		"query_workers":             "query.workers",
		"query_max_time":            "query.max_time",
		"query_max_retries":         "query.max_retries",
		"query_retry_delay":         "query.retry_delay",
		"query_expiration_interval": "query.expiration_interval",
		"query_reap_interval":       "query.reap_interval",
		"query_retention":           "query.retention",
		"query_max_result_rows":     "query.max_result_rows",

		// Server mappings
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",
		"cors_origins":        "server.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Skip unmapped keys so random environment variables don't pollute
	// the config.
	return ""
}
