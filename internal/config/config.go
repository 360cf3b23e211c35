// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the ingestion core's configuration in layers:
// compiled-in defaults, an optional YAML file, then environment
// variables (highest priority), following the same koanf-based load
// order the teacher codebase uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations searched in priority
// order; the first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamystats/config.yaml",
	"/etc/streamystats/config.yml",
}

// ConfigPathEnvVar overrides the search path entirely when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the ingestion core's full runtime configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	HTTP     HTTPConfig     `koanf:"http"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	SessionPoll SessionPollConfig `koanf:"session_poll"`
	GeoIP     GeoIPConfig    `koanf:"geoip"`
	Logging   LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
}

// HTTPConfig configures the thin admin/SSE shell's bind address.
type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// SchedulerConfig configures Scheduler startup behavior.
type SchedulerConfig struct {
	SkipStartupFullSync bool `koanf:"skip_startup_full_sync"`
}

// SessionPollConfig configures the SessionPoller's tick cadence, per-UMS
// HTTP timeouts, retries, and fan-out concurrency (spec.md §6).
type SessionPollConfig struct {
	IntervalMS        int `koanf:"interval_ms"`
	ServerTimeoutMS   int `koanf:"server_timeout_ms"`
	ServerRetries     int `koanf:"server_retries"`
	ServerConcurrency int `koanf:"server_concurrency"`
}

// GeoIPConfig configures the geolocation provider used by the
// GeolocationPipeline.
type GeoIPConfig struct {
	Provider       string  `koanf:"provider"` // "maxmind" or "ip-api"
	MaxMindLicense string  `koanf:"maxmind_license"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
}

// LoggingConfig configures the zerolog sink.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  time.Hour,
			ConnMaxIdleTime:  5 * time.Minute,
			StatementTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		SessionPoll: SessionPollConfig{
			IntervalMS:        5000,
			ServerTimeoutMS:   60000,
			ServerRetries:     3,
			ServerConcurrency: 3,
		},
		GeoIP: GeoIPConfig{
			Provider:     "ip-api",
			RateLimitRPS: 0.75, // ip-api.com free tier: 45 req/min
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the layered configuration: defaults, then an optional
// YAML file, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate enforces the required invariants spec.md §6 names explicitly
// (DATABASE_URL is required; everything else has a workable default).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionPoll.IntervalMS <= 0 {
		return fmt.Errorf("session_poll.interval_ms must be positive")
	}
	if c.SessionPoll.ServerConcurrency <= 0 {
		return fmt.Errorf("session_poll.server_concurrency must be positive")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps spec.md §6's flat environment variable names
// (DATABASE_URL, SESSION_POLL_INTERVAL_MS, ...) onto this struct's
// nested koanf paths (database.url, session_poll.interval_ms, ...).
func envTransformFunc(s string) string {
	switch s {
	case "DATABASE_URL":
		return "database.url"
	case "PORT":
		return "http.port"
	case "HOST":
		return "http.host"
	case "SKIP_STARTUP_FULL_SYNC":
		return "scheduler.skip_startup_full_sync"
	case "SESSION_POLL_INTERVAL_MS":
		return "session_poll.interval_ms"
	case "SESSION_POLL_SERVER_TIMEOUT_MS":
		return "session_poll.server_timeout_ms"
	case "SESSION_POLL_SERVER_RETRIES":
		return "session_poll.server_retries"
	case "SESSION_POLL_SERVER_CONCURRENCY":
		return "session_poll.server_concurrency"
	case "LOG_LEVEL":
		return "logging.level"
	default:
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}
}
