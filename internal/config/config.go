// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package config loads graft configuration from layered sources: built-in
// defaults, then an optional YAML file, then command-line flags.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/grafthost/graft/internal/xdg"
)

// Config is the resolved graft configuration.
type Config struct {
	Log       Log       `koanf:"log"`
	Data      Data      `koanf:"data"`
	Metrics   Metrics   `koanf:"metrics"`
	Save      Save      `koanf:"save"`
	Bootstrap Bootstrap `koanf:"bootstrap"`
	Host      Host      `koanf:"host"`
}

// Log configures the structured logger.
type Log struct {
	// Format is "text" or "json".
	Format string `koanf:"format"`
	// File, when set, appends logs to this file instead of stderr.
	File string `koanf:"file"`
}

// Data configures filesystem locations.
type Data struct {
	Dir           string `koanf:"dir"`
	ExtensionsDir string `koanf:"extensions_dir"`
}

// Metrics configures the observability HTTP server.
type Metrics struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Save configures the save store.
type Save struct {
	Path string `koanf:"path"`
}

// Bootstrap tunes the handshake with the host.
type Bootstrap struct {
	PollInterval  time.Duration `koanf:"poll_interval"`
	MaxAttempts   int           `koanf:"max_attempts"`
	WorldBudget   time.Duration `koanf:"world_budget"`
	Stabilization time.Duration `koanf:"stabilization"`
}

// Host tunes the embedded demo host.
type Host struct {
	TickRate        time.Duration `koanf:"tick_rate"`
	BootDelay       time.Duration `koanf:"boot_delay"`
	WorldReadyDelay time.Duration `koanf:"world_ready_delay"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.format":              "text",
		"log.file":                "",
		"data.dir":                xdg.DataDir(),
		"data.extensions_dir":     xdg.ExtensionsDir(),
		"metrics.enabled":         false,
		"metrics.addr":            "127.0.0.1:9464",
		"save.path":               "",
		"bootstrap.poll_interval": "500ms",
		"bootstrap.max_attempts":  120,
		"bootstrap.world_budget":  "15s",
		"bootstrap.stabilization": "500ms",
		"host.tick_rate":          "50ms",
		"host.boot_delay":         "250ms",
		"host.world_ready_delay":  "250ms",
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and flags apply; a non-empty path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	errb := oops.In("config")

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errb.Wrapf(err, "failed to load defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errb.With("path", path).
				Code("CONFIG_NOT_FOUND").
				Wrapf(err, "config file not found")
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errb.With("path", path).
				Hint("check the file is valid YAML").
				Wrapf(err, "failed to parse config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, errb.Wrapf(err, "failed to load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errb.Wrapf(err, "failed to decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	errb := oops.In("config").Code("CONFIG_INVALID")

	switch c.Log.Format {
	case "text", "json":
	default:
		return errb.With("format", c.Log.Format).
			Errorf("log.format must be text or json")
	}
	if c.Bootstrap.PollInterval <= 0 {
		return errb.Errorf("bootstrap.poll_interval must be positive")
	}
	if c.Bootstrap.MaxAttempts <= 0 {
		return errb.Errorf("bootstrap.max_attempts must be positive")
	}
	if c.Bootstrap.WorldBudget <= 0 {
		return errb.Errorf("bootstrap.world_budget must be positive")
	}
	if c.Bootstrap.Stabilization < 0 {
		return errb.Errorf("bootstrap.stabilization cannot be negative")
	}
	if c.Host.TickRate <= 0 {
		return errb.Errorf("host.tick_rate must be positive")
	}
	return nil
}
