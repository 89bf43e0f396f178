/*
Package config loads server configuration from a YAML file with
environment variable overrides.

Precedence, lowest to highest: built-in defaults, YAML file, environment.
A missing config file is not an error; the defaults are a complete
working configuration for local development.

ENVIRONMENT VARIABLES:
  POINTS_HTTP_PORT             HTTP listen port
  POINTS_DB_PATH               SQLite database path (":memory:" for ephemeral)
  POINTS_MIN_REDEEM            Minimum points per redemption
  POINTS_MAX_REDEEM            Maximum points per redemption
  POINTS_LOCK_TIMEOUT          Per-user lock acquisition timeout (Go duration)
  POINTS_MAX_CONFLICT_RETRIES  Write-conflict retry budget
  POINTS_SWEEP_INTERVAL        Expiration sweep interval (Go duration)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	HTTPPort int    `yaml:"http_port"`
	DBPath   string `yaml:"db_path"`

	Ledger LedgerConfig `yaml:"ledger"`
	Sweep  SweepConfig  `yaml:"sweep"`
}

// LedgerConfig tunes the redemption engine.
type LedgerConfig struct {
	MinRedeem          int64         `yaml:"min_redeem"`
	MaxRedeem          int64         `yaml:"max_redeem"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	MaxConflictRetries int           `yaml:"max_conflict_retries"`
}

// SweepConfig controls the background expiration sweeper.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in development configuration.
func Default() Config {
	return Config{
		HTTPPort: 8080,
		DBPath:   "", // empty means in-memory store
		Ledger: LedgerConfig{
			MinRedeem:          1,
			MaxRedeem:          1_000_000,
			LockTimeout:        5 * time.Second,
			MaxConflictRetries: 3,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("POINTS_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POINTS_HTTP_PORT %q: %w", v, err)
		}
		c.HTTPPort = port
	}
	if v := os.Getenv("POINTS_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("POINTS_MIN_REDEEM"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POINTS_MIN_REDEEM %q: %w", v, err)
		}
		c.Ledger.MinRedeem = n
	}
	if v := os.Getenv("POINTS_MAX_REDEEM"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POINTS_MAX_REDEEM %q: %w", v, err)
		}
		c.Ledger.MaxRedeem = n
	}
	if v := os.Getenv("POINTS_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POINTS_LOCK_TIMEOUT %q: %w", v, err)
		}
		c.Ledger.LockTimeout = d
	}
	if v := os.Getenv("POINTS_MAX_CONFLICT_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POINTS_MAX_CONFLICT_RETRIES %q: %w", v, err)
		}
		c.Ledger.MaxConflictRetries = n
	}
	if v := os.Getenv("POINTS_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POINTS_SWEEP_INTERVAL %q: %w", v, err)
		}
		c.Sweep.Interval = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}
	if c.Ledger.MinRedeem < 1 {
		return fmt.Errorf("ledger.min_redeem must be at least 1, got %d", c.Ledger.MinRedeem)
	}
	if c.Ledger.MaxRedeem < c.Ledger.MinRedeem {
		return fmt.Errorf("ledger.max_redeem (%d) below ledger.min_redeem (%d)",
			c.Ledger.MaxRedeem, c.Ledger.MinRedeem)
	}
	if c.Ledger.LockTimeout <= 0 {
		return fmt.Errorf("ledger.lock_timeout must be positive, got %s", c.Ledger.LockTimeout)
	}
	if c.Ledger.MaxConflictRetries < 0 {
		return fmt.Errorf("ledger.max_conflict_retries must not be negative, got %d", c.Ledger.MaxConflictRetries)
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive when sweep is enabled, got %s", c.Sweep.Interval)
	}
	return nil
}
