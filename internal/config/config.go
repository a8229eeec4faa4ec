// Package config parses and validates process configuration from environment
// variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Runtime job settings (max_retries, exponential_base, ...) are not here:
// they live in the config table and are read through the store.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"20"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"30s"`
	DBConnectTimeout     time.Duration `env:"DB_CONNECT_TIMEOUT"      envDefault:"10s"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"extended_protocol"`

	// ── Process ──────────────────────────────────────────────────────────────────
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Status HTTP surface ──────────────────────────────────────────────────────
	// Empty disables the surface; `worker start` then serves nothing.
	StatusAddr        string        `env:"STATUS_ADDR"`
	RateLimitPerMin   int           `env:"STATUS_RATE_LIMIT_PER_MIN" envDefault:"120"`
	RateLimitEvictTTL time.Duration `env:"RATE_LIMIT_EVICT_TTL"      envDefault:"15m"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing or a value is invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBQueryExecMode {
	case "simple_protocol", "extended_protocol":
	default:
		return fmt.Errorf("DB_QUERY_EXEC_MODE: unknown mode %q", c.DBQueryExecMode)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS: must be at least 1, got %d", c.DBMaxConns)
	}
	if c.ShutdownTimeoutSeconds < 1 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS: must be at least 1, got %d", c.ShutdownTimeoutSeconds)
	}
	if c.RateLimitPerMin < 1 {
		return fmt.Errorf("STATUS_RATE_LIMIT_PER_MIN: must be at least 1, got %d", c.RateLimitPerMin)
	}
	return nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ShutdownTimeout is the grace period for in-flight jobs on stop.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
