// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafthost/graft/internal/config"
	"github.com/grafthost/graft/pkg/errutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Bootstrap.PollInterval)
	assert.Equal(t, 120, cfg.Bootstrap.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Bootstrap.WorldBudget)
	assert.Equal(t, 500*time.Millisecond, cfg.Bootstrap.Stabilization)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NotEmpty(t, cfg.Data.Dir)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  format: json
bootstrap:
  world_budget: 30s
metrics:
  enabled: true
  addr: 127.0.0.1:9999
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Bootstrap.WorldBudget)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Addr)
	// Untouched keys keep their defaults.
	assert.Equal(t, 120, cfg.Bootstrap.MaxAttempts)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "log:\n  format: json\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log.format", "text", "")
	require.NoError(t, flags.Parse([]string{"--log.format=text"}))

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_NOT_FOUND")
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "log: [nope")
	_, err := config.Load(path, nil)
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log format", "log:\n  format: xml\n"},
		{"zero poll interval", "bootstrap:\n  poll_interval: 0s\n"},
		{"zero attempts", "bootstrap:\n  max_attempts: 0\n"},
		{"zero world budget", "bootstrap:\n  world_budget: 0s\n"},
		{"negative stabilization", "bootstrap:\n  stabilization: -1s\n"},
		{"zero tick rate", "host:\n  tick_rate: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := config.Load(path, nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		})
	}
}
