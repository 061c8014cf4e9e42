// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

// Package config loads and validates the Notestream service configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an optional
// YAML file, then environment variables. Environment variables always win.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Notestream service.
type Config struct {
	NATS     NATSConfig     `koanf:"nats"`
	Database DatabaseConfig `koanf:"database"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Server   ServerConfig   `koanf:"server"`
	DLQ      DLQConfig      `koanf:"dlq"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// NATSConfig holds broker and Watermill router settings.
type NATSConfig struct {
	// URL of an external NATS server, ignored when EmbeddedServer is true.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS JetStream server.
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream file storage directory (embedded server).
	StoreDir string `koanf:"store_dir"`

	// MaxMemory and MaxStore bound the embedded JetStream instance.
	MaxMemory int64 `koanf:"max_memory"`
	MaxStore  int64 `koanf:"max_store"`

	// StreamRetentionDays is how long the events stream retains messages.
	StreamRetentionDays int `koanf:"stream_retention_days"`

	// BatchSize and FlushInterval drive the sink appender.
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	DurableName string `koanf:"durable_name"`
	QueueGroup  string `koanf:"queue_group"`

	// Router middleware settings.
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterThrottlePerSecond    int           `koanf:"router_throttle_per_second"`
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// DatabaseConfig holds DuckDB settings for the analytical store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads 0 means runtime.NumCPU().
	Threads                int  `koanf:"threads"`
	PreserveInsertionOrder bool `koanf:"preserve_insertion_order"`
}

// PipelineConfig holds normalization settings.
type PipelineConfig struct {
	// DefaultEventName is assigned when a payload carries no event name.
	DefaultEventName string `koanf:"default_event_name"`

	// SyncFlush forces a sink flush after every message. Slower but useful
	// for tests and low-volume deployments.
	SyncFlush bool `koanf:"sync_flush"`
}

// ServerConfig holds the HTTP ingest/ops server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DLQConfig holds dead-letter handling settings.
type DLQConfig struct {
	// AutoRetryEnabled runs the background worker that re-publishes
	// retry-eligible failed events.
	AutoRetryEnabled bool          `koanf:"auto_retry_enabled"`
	RetryInterval    time.Duration `koanf:"retry_interval"`
	MaxRetries       int           `koanf:"max_retries"`
	// RetryPerSecond caps republish throughput.
	RetryPerSecond float64 `koanf:"retry_per_second"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateNATS() error {
	if !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_EMBEDDED=false")
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
	}
	if c.NATS.BatchSize < 1 {
		return fmt.Errorf("NATS_BATCH_SIZE must be at least 1")
	}
	if c.NATS.FlushInterval <= 0 {
		return fmt.Errorf("NATS_FLUSH_INTERVAL must be positive")
	}
	if c.NATS.StreamRetentionDays < 1 {
		return fmt.Errorf("NATS_RETENTION_DAYS must be at least 1")
	}
	if c.NATS.RouterRetryCount < 0 {
		return fmt.Errorf("NATS_ROUTER_RETRY_COUNT must not be negative")
	}
	if c.NATS.RouterPoisonQueueEnabled && c.NATS.RouterPoisonQueueTopic == "" {
		return fmt.Errorf("NATS_ROUTER_POISON_TOPIC is required when poison queue is enabled")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}
