// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	RequestTimeoutSec  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
	RetryIntervalMs int    `mapstructure:"retry_interval_ms"`
}

// SchedulerConfig governs assignment, reclamation and leaderboard behavior.
type SchedulerConfig struct {
	RootAccountID      int64 `mapstructure:"root_account_id"`
	SeedCount          int64 `mapstructure:"seed_count"`
	RefreshEvery       int64 `mapstructure:"refresh_every"`
	DiscoverEvery      int64 `mapstructure:"discover_every"`
	ClaimTimeoutMin    int   `mapstructure:"claim_timeout_minutes"`
	SweepIntervalSec   int   `mapstructure:"sweep_interval_seconds"`
	RebuildIntervalHr  int   `mapstructure:"rebuild_interval_hours"`
	LeaderboardSize    int   `mapstructure:"leaderboard_size"`
	SubmissionWorkers  int   `mapstructure:"submission_workers"`
	SubmissionQueue    int   `mapstructure:"submission_queue_depth"`
	DiscoveryBatchSize int   `mapstructure:"discovery_batch_size"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project id disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("db.retry_interval_ms", 500)
	v.SetDefault("scheduler.root_account_id", 1)
	v.SetDefault("scheduler.seed_count", 1)
	v.SetDefault("scheduler.refresh_every", 10)
	v.SetDefault("scheduler.discover_every", 100)
	v.SetDefault("scheduler.claim_timeout_minutes", 10)
	v.SetDefault("scheduler.sweep_interval_seconds", 60)
	v.SetDefault("scheduler.rebuild_interval_hours", 12)
	v.SetDefault("scheduler.leaderboard_size", 100)
	v.SetDefault("scheduler.submission_workers", 4)
	v.SetDefault("scheduler.submission_queue_depth", 256)
	v.SetDefault("scheduler.discovery_batch_size", 500)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.backend is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Scheduler.RootAccountID <= 0 {
		return fmt.Errorf("scheduler.root_account_id must be > 0")
	}
	if c.Scheduler.SeedCount <= 0 {
		return fmt.Errorf("scheduler.seed_count must be > 0")
	}
	if c.Scheduler.RefreshEvery <= 0 || c.Scheduler.DiscoverEvery <= 0 {
		return fmt.Errorf("scheduler.refresh_every and scheduler.discover_every must be > 0")
	}
	if c.Scheduler.LeaderboardSize <= 0 {
		return fmt.Errorf("scheduler.leaderboard_size must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// ClaimTimeout converts the claim timeout into a duration.
func (c SchedulerConfig) ClaimTimeout() time.Duration {
	return time.Duration(c.ClaimTimeoutMin) * time.Minute
}

// SweepInterval converts the sweep cadence into a duration.
func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// RebuildInterval converts the rebuild cadence into a duration.
func (c SchedulerConfig) RebuildInterval() time.Duration {
	return time.Duration(c.RebuildIntervalHr) * time.Hour
}

// RequestTimeout converts the per-request budget into a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ShutdownTimeout converts the graceful shutdown budget into a duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// ConnLifetime converts the pool connection lifetime into a duration.
func (c DBConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMin) * time.Minute
}

// RetryInterval converts the transient-error backoff into a duration.
func (c DBConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}
