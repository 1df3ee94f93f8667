// Package config holds the handful of environment-tunable knobs that aren't
// per-invocation worker CLI arguments: log formatting, the debug metrics
// listener, and the store's lock timeout override. Per-invocation arguments
// (deadline, parallelism, command template) stay on the standard flag
// package in cmd/worker, since they vary per batch submission rather than
// per deployment environment.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is environment-sourced process configuration, loaded once at
// startup via Load.
type Config struct {
	Env      string `env:"JOBSCHEDULER_ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"JOBSCHEDULER_LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	MetricsAddr string `env:"JOBSCHEDULER_METRICS_ADDR" envDefault:":9090"`

	// LockTimeoutMs overrides internal/store's default busy_timeout pragma;
	// read directly by internal/store via os.Getenv rather than through this
	// struct, since the store package must not import internal/config (the
	// corpus keeps its infrastructure packages free of a config dependency,
	// taking only the already-parsed values they need).
	LockTimeoutMs int `env:"JOBSCHEDULER_LOCK_TIMEOUT_MS" envDefault:"30000" validate:"min=1"`
}

// Load parses Config from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
