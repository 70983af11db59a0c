// Package config loads the process configuration from a YAML file with
// environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// DatabaseConfig selects the persistence backend. The dialect is inferred
// from the DSN: postgres:// URLs use postgres, anything else is a SQLite
// file path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the optional dedup cache and debit retry queue.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig controls log level and optional rotated file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// PricingConfig points at optional parameter-spec and rate overlays.
type PricingConfig struct {
	// SpecsFile overlays the built-in provider parameter specs.
	SpecsFile string `yaml:"specs_file"`
}

// JobsConfig schedules background maintenance.
type JobsConfig struct {
	// SummaryRebuildCron is a cron expression for the nightly rebuild of
	// the previous day's summaries. Empty disables the job.
	SummaryRebuildCron string `yaml:"summary_rebuild_cron"`
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()
	if data, errRead := os.ReadFile(path); errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	cfg.overrideFromEnv()
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config: database.dsn is required")
	}
	return cfg, nil
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DSN: "token-ledger.db"},
		Redis:    RedisConfig{Enabled: false, Addr: "localhost:6379"},
		Logging:  LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Jobs:     JobsConfig{SummaryRebuildCron: "30 0 * * *"},
	}
}

func (c *Config) overrideFromEnv() {
	if v := strings.TrimSpace(os.Getenv("LEDGER_DATABASE_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_REDIS_ADDR")); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_REDIS_PASSWORD")); v != "" {
		c.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_REDIS_DB")); v != "" {
		if n, errParse := strconv.Atoi(v); errParse == nil {
			c.Redis.DB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}
