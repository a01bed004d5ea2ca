// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads Gatehouse configuration from a YAML file,
// environment, and command-line flags, in ascending precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full Gatehouse configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Sweep    SweepConfig    `koanf:"sweep"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// MetricsConfig holds the observability HTTP server settings.
// An empty Addr disables the server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// AuthConfig holds the auth engine tunables. Zero values fall back to
// the engine defaults. The shipped subcommands never construct the
// engine; this section is parsed for callers that embed the engine
// behind their own transport and load the same config file.
type AuthConfig struct {
	SessionTTL      time.Duration `koanf:"session_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl"`
	MaxAttempts     int           `koanf:"max_attempts"`
	FailureWindow   time.Duration `koanf:"failure_window"`
	LockDuration    time.Duration `koanf:"lock_duration"`
}

// SweepConfig holds expired-row sweeper settings.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Default returns the configuration defaults. Auth TTLs are left zero
// so the auth engine applies its own defaults.
func Default() Config {
	return Config{
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Sweep:   SweepConfig{Interval: time.Hour},
	}
}

// Load builds a Config from, in ascending precedence: defaults, the
// YAML file at path (skipped when path is empty), the DATABASE_URL
// environment variable, and the given flags. Flag names map to config
// keys by replacing dashes with dots (database-url -> database.url).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "."), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required (flag --database-url, config database.url, or DATABASE_URL)")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}
