// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Durations are expressed in milliseconds so that env vars stay plain integers.
// - New(ctx) returns defaults; Load(ctx) layers file and env on top of them.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/standings/internal/domain/model"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of recalculation workers.
	WorkerCount int `koanf:"worker_count"`

	// MaxAttempts bounds how often a job is tried before it fails.
	MaxAttempts int `koanf:"max_attempts"`

	// BackoffBaseMS and BackoffMaxMS bound the exponential retry delay.
	BackoffBaseMS int `koanf:"backoff_base_ms"`
	BackoffMaxMS  int `koanf:"backoff_max_ms"`

	// JobTimeoutMS aborts a single job attempt.
	JobTimeoutMS int `koanf:"job_timeout_ms"`

	// HistorySize caps the number of finished jobs kept in memory.
	HistorySize int `koanf:"history_size"`

	// ManualPriority is the priority of manual triggers without an explicit one.
	ManualPriority string `koanf:"manual_priority"`

	// CollationLanguage is the BCP 47 tag used to order team names.
	CollationLanguage string `koanf:"collation_language"`

	// DedupeSize bounds the idempotency key cache of match saves.
	DedupeSize int `koanf:"dedupe_size"`

	// DatabaseDriver is one of memory, sqlite, postgres.
	DatabaseDriver string `koanf:"database_driver"`
	DatabaseDSN    string `koanf:"database_dsn"`

	// SnapshotRetentionDays is the age after which snapshots are pruned.
	SnapshotRetentionDays int `koanf:"snapshot_retention_days"`

	// SnapshotPruneCron schedules the retention job. Empty disables it.
	SnapshotPruneCron string `koanf:"snapshot_prune_cron"`

	// Archive settings. An empty bucket disables archiving.
	ArchiveBucket string `koanf:"archive_bucket"`
	ArchivePrefix string `koanf:"archive_prefix"`
	ArchiveRegion string `koanf:"archive_region"`

	// Telegram escalation. An empty token disables it.
	TelegramToken  string `koanf:"telegram_token"`
	TelegramChatID int64  `koanf:"telegram_chat_id"`

	// CORSOrigins is a comma separated allow list for the HTTP API.
	CORSOrigins string `koanf:"cors_origins"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		WorkerCount:           3,
		MaxAttempts:           3,
		BackoffBaseMS:         500,
		BackoffMaxMS:          30_000,
		JobTimeoutMS:          60_000,
		HistorySize:           200,
		ManualPriority:        "high",
		CollationLanguage:     "de",
		DedupeSize:            10_000,
		DatabaseDriver:        DriverMemory,
		SnapshotRetentionDays: 30,
		SnapshotPruneCron:     "0 3 * * *",
		ArchivePrefix:         "snapshots/",
		CORSOrigins:           "*",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be at least 1", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidConfig)
	case c.BackoffBaseMS < 0 || c.BackoffMaxMS < c.BackoffBaseMS:
		return fmt.Errorf("%w: backoff_max_ms must not be below backoff_base_ms", ErrInvalidConfig)
	case c.JobTimeoutMS < 1:
		return fmt.Errorf("%w: job_timeout_ms must be positive", ErrInvalidConfig)
	case c.HistorySize < 1:
		return fmt.Errorf("%w: history_size must be at least 1", ErrInvalidConfig)
	case c.SnapshotRetentionDays < 1:
		return fmt.Errorf("%w: snapshot_retention_days must be at least 1", ErrInvalidConfig)
	}
	if _, err := model.ParsePriority(c.ManualPriority); err != nil {
		return fmt.Errorf("%w: manual_priority: %v", ErrInvalidConfig, err)
	}
	switch c.DatabaseDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: database_dsn is required for %s", ErrInvalidConfig, c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("%w: unknown database_driver %q", ErrInvalidConfig, c.DatabaseDriver)
	}
	return nil
}

// Priority returns the parsed manual trigger priority.
func (c *Config) Priority() model.Priority {
	p, err := model.ParsePriority(c.ManualPriority)
	if err != nil {
		return model.PriorityHigh
	}
	return p
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// JobTimeout returns the execution timeout of one attempt.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMS) * time.Millisecond
}

// SnapshotRetention returns the snapshot retention period.
func (c *Config) SnapshotRetention() time.Duration {
	return time.Duration(c.SnapshotRetentionDays) * 24 * time.Hour
}

// Origins splits CORSOrigins into a list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
