// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

// Package config loads service configuration from defaults, an optional
// YAML file, and command-line flags, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/formworks/formworks/internal/xdg"
)

// Config is the full service configuration.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Database      DatabaseConfig      `koanf:"database"`
	Cache         CacheConfig         `koanf:"cache"`
	Audit         AuditConfig         `koanf:"audit"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `koanf:"format"` // "json" or "text"
}

// DatabaseConfig tunes the pgx connection pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
}

// CacheConfig tunes the membership cache.
type CacheConfig struct {
	StalenessThreshold time.Duration `koanf:"staleness_threshold"`
}

// AuditConfig selects what the audit logger records.
type AuditConfig struct {
	Mode string `koanf:"mode"` // "minimal", "denials_only", or "all"
}

// ObservabilityConfig configures the metrics/health server.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Format: "json"},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
		},
		Cache:         CacheConfig{StalenessThreshold: 5 * time.Minute},
		Audit:         AuditConfig{Mode: "minimal"},
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9100"},
	}
}

// DefaultPath returns the XDG location of the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// Load builds a Config from defaults, then the YAML file at path, then
// the given flag set. An empty path falls back to DefaultPath() when
// that file exists and is otherwise skipped; an explicit path must
// exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, oops.Code("CONFIG_FILE_MISSING").With("path", path).Wrap(err)
		}
	} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values outside the known vocabularies.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "log.format").
			Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Audit.Mode {
	case "minimal", "denials_only", "all":
	default:
		return oops.Code("CONFIG_INVALID").
			With("field", "audit.mode").
			Errorf("unknown audit mode %q", c.Audit.Mode)
	}
	if c.Cache.StalenessThreshold <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("field", "cache.staleness_threshold").
			Errorf("staleness threshold must be positive")
	}
	return nil
}

// RegisterFlags declares the flags Load understands. Flag names mirror
// the koanf key paths so posflag can map them directly; posflag only
// overrides file values for flags the user actually set.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("log.format", def.Log.Format, "log format (json or text)")
	fs.String("database.url", "", "PostgreSQL connection URL")
	fs.String("audit.mode", def.Audit.Mode, "audit mode (minimal, denials_only, all)")
	fs.String("observability.addr", def.Observability.Addr, "metrics/health listen address")
}
