// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

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

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reportus/config.yaml",
	"/etc/reportus/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
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
	// DATABASE_URL -> database.url, SCHEDULER_SCAN_INTERVAL -> scheduler.scan_interval
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
// Returns the path to the first file found, or empty string if none found.
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

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when they arrive via environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
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
// Unmapped variables are skipped so random environment noise cannot pollute
// the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database
		"database_url":          "database.url",
		"db_max_open_conns":     "database.max_open_conns",
		"db_max_idle_conns":     "database.max_idle_conns",
		"db_conn_max_lifetime":  "database.conn_max_lifetime",
		"database_auto_migrate": "database.auto_migrate",

		// Redis
		"redis_addr":     "redis.addr",
		"redis_password": "redis.password",
		"redis_db":       "redis.db",

		// NATS
		"nats_url":          "nats.url",
		"nats_embedded":     "nats.embedded_server",
		"nats_store_dir":    "nats.store_dir",
		"nats_durable_name": "nats.durable_name",
		"nats_max_deliver":  "nats.max_deliver",
		"nats_ack_wait":     "nats.ack_wait",
		"worker_count":      "nats.worker_count",

		// Blob storage
		"blob_endpoint":       "blob.endpoint",
		"blob_region":         "blob.region",
		"blob_bucket":         "blob.bucket",
		"blob_access_key_id":  "blob.access_key_id",
		"blob_secret_key":     "blob.secret_access_key",
		"blob_path_style":     "blob.use_path_style",
		"blob_signed_url_ttl": "blob.signed_url_ttl",

		// SMTP
		"smtp_host":     "smtp.host",
		"smtp_port":     "smtp.port",
		"smtp_username": "smtp.username",
		"smtp_password": "smtp.password",
		"smtp_from":     "smtp.from",
		"smtp_use_tls":  "smtp.use_tls",

		// Scheduler loop
		"scheduler_enabled":       "scheduler.enabled",
		"enable_scheduler":        "scheduler.enabled",
		"scheduler_scan_interval": "scheduler.scan_interval",
		"scheduler_batch_size":    "scheduler.batch_size",
		"scheduler_lock_key":      "scheduler.lock_key",
		"scheduler_lock_ttl":      "scheduler.lock_ttl",

		// Burst protection
		"burst_tenant_limit":  "burst.tenant_limit",
		"burst_global_limit":  "burst.global_limit",
		"burst_sync_interval": "burst.sync_interval",

		// Pipeline
		"pipeline_max_attempts":  "pipeline.max_attempts",
		"pipeline_retry_backoff": "pipeline.retry_backoff",
		"pipeline_exec_timeout":  "pipeline.execution_timeout",

		// Rendering
		"render_pdf_command": "render.pdf_command",
		"render_pdf_timeout": "render.pdf_timeout",

		// Result cache
		"cache_enabled":     "cache.enabled",
		"cache_default_ttl": "cache.default_ttl",

		// Retention
		"retention_enabled":        "retention.enabled",
		"retention_sweep_interval": "retention.sweep_interval",
		"retention_artifact_days":  "retention.artifact_days",
		"retention_audit_days":     "retention.audit_days",
		"retention_batch_size":     "retention.batch_size",
		"retention_dry_run":        "retention.dry_run",

		// Security
		"jwt_secret":          "security.jwt_secret",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",

		// API
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
