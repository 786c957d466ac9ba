// Package config loads engine configuration from environment
// variables via envconfig.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all settlement-engine settings.
type Config struct {
	// --- HTTP ---
	Port string `envconfig:"PORT" default:"8080"`

	// --- Database ---
	// Empty DB_HOST selects the in-memory store. Inside docker-compose
	// the service name is the right host, not localhost.
	DBHost     string `envconfig:"DB_HOST" default:""`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"arenax"`
	DBPassword string `envconfig:"DB_PASSWORD" default:""`
	DBName     string `envconfig:"DB_NAME" default:"settlement"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// --- Cache ---
	RedisURL string        `envconfig:"REDIS_URL" default:""`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	// --- Platform defaults ---
	DefaultFeeBasisPoints uint16 `envconfig:"DEFAULT_FEE_BPS" default:"250"`

	// --- Background jobs ---
	// Standard 5-field cron spec for the match expiry sweep.
	SweepSpec string `envconfig:"SWEEP_SPEC" default:"* * * * *"`
}

// DatabaseDSN returns the PostgreSQL connection string, or "" when no
// database host is configured.
func (c *Config) DatabaseDSN() string {
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be > 0")
	}
	if c.DefaultFeeBasisPoints > 1000 {
		return fmt.Errorf("DEFAULT_FEE_BPS must be <= 1000")
	}
	if c.SweepSpec == "" {
		return fmt.Errorf("SWEEP_SPEC must not be empty")
	}
	return nil
}

// Load reads environment variables into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
