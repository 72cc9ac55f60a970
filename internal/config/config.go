// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config holding every default.
// - Load layers a YAML file and SUGANG_* environment variables over New().
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"time"
)

// Params is a log-normal (scale, shape) pair as configured.
type Params struct {
	Scale float64 `koanf:"scale"`
	Shape float64 `koanf:"shape"`
}

// Ranking configures the competition model.
type Ranking struct {
	// Mode selects percentile computation: "lognormal" or "empirical".
	Mode string `koanf:"mode"`

	// Default is used for classifications without an entry in Distributions.
	Default Params `koanf:"default"`

	// Distributions maps subject classifications to stricter or looser params.
	Distributions map[string]Params `koanf:"distributions"`

	// SnapshotRefreshSeconds is the period of the empirical snapshot rebuild.
	SnapshotRefreshSeconds int `koanf:"snapshot_refresh_seconds"`

	// SnapshotMaxSamples caps the number of historical latencies loaded.
	SnapshotMaxSamples int `koanf:"snapshot_max_samples"`
}

// Redis configures the Redis-backed ephemeral store.
type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`

	// ConfigureNotifications issues CONFIG SET notify-keyspace-events at startup.
	ConfigureNotifications bool `koanf:"configure_notifications"`
}

// Subject seeds one catalog row at startup.
type Subject struct {
	ID             string `koanf:"id"`
	Name           string `koanf:"name"`
	Classification string `koanf:"classification"`
	Capacity       int    `koanf:"capacity"`
	Competitors    int    `koanf:"competitors"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the ephemeral store backend: memory or redis.
	Store string `koanf:"store"`

	// SQLitePath is the attempt log and leaderboard database file.
	SQLitePath string `koanf:"sqlite_path"`

	// SessionTTLSeconds is the lifetime of a practice round.
	SessionTTLSeconds int `koanf:"session_ttl_seconds"`

	// LockTTLSeconds is the safety-net TTL of the start lock.
	LockTTLSeconds int `koanf:"lock_ttl_seconds"`

	// TargetOffsetMinMS and TargetOffsetMaxMS bound the virtual time until the window opens.
	TargetOffsetMinMS int `koanf:"target_offset_min_ms"`
	TargetOffsetMaxMS int `koanf:"target_offset_max_ms"`

	// EarlyClickWindowMS is how far before opening an early click is still recorded.
	EarlyClickWindowMS int `koanf:"early_click_window_ms"`

	// ReconcileWorkers and ReconcileQueueSize size the expiry reconcile pipeline.
	ReconcileWorkers   int `koanf:"reconcile_workers"`
	ReconcileQueueSize int `koanf:"reconcile_queue_size"`

	// DedupeSize bounds the in-process reconciled-session cache.
	DedupeSize int `koanf:"dedupe_size"`

	// LeaderboardResetHours clears the leaderboard periodically; 0 disables.
	LeaderboardResetHours int `koanf:"leaderboard_reset_hours"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// AllowClientLatency lets attempts carry their own latency_ms. Off, only
	// server-measured latencies are accepted.
	AllowClientLatency bool `koanf:"allow_client_latency"`

	// OTelEndpoint enables OTLP/HTTP tracing when set.
	OTelEndpoint string `koanf:"otel_endpoint"`

	Ranking  Ranking   `koanf:"ranking"`
	Redis    Redis     `koanf:"redis"`
	Subjects []Subject `koanf:"subjects"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		Store:                 "memory",
		SQLitePath:            "sugang.db",
		SessionTTLSeconds:     300,
		LockTTLSeconds:        10,
		TargetOffsetMinMS:     3_000,
		TargetOffsetMaxMS:     10_000,
		EarlyClickWindowMS:    5_000,
		ReconcileWorkers:      4,
		ReconcileQueueSize:    1024,
		DedupeSize:            50_000,
		LeaderboardResetHours: 0,
		MaxLeaderboardLimit:   100,
		Ranking: Ranking{
			Mode:    "lognormal",
			Default: Params{Scale: 5.0, Shape: 0.5},
			Distributions: map[string]Params{
				"major": {Scale: 4.6, Shape: 0.45},
			},
			SnapshotRefreshSeconds: 60,
			SnapshotMaxSamples:     100_000,
		},
		Redis: Redis{
			Addr:                   "localhost:6379",
			PoolSize:               10,
			ConfigureNotifications: true,
		},
	}
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// LockTTL returns the start lock safety TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
