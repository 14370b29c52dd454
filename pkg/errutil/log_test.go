// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafthost/graft/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		With("key", "value").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "TEST_ERROR", logEntry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestOnce_SuppressesRepeatedSite(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	once := errutil.NewOnce()

	err := errors.New("handler blew up")

	assert.True(t, once.LogError(logger, "channel:x/handler:1", "subscriber failed", err))
	assert.False(t, once.LogError(logger, "channel:x/handler:1", "subscriber failed", err))
	assert.False(t, once.LogError(logger, "channel:x/handler:1", "subscriber failed", err))

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	assert.Equal(t, 1, lines)
}

func TestOnce_DistinctSitesBothLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	once := errutil.NewOnce()

	err := errors.New("boom")

	assert.True(t, once.LogError(logger, "site-a", "failed", err))
	assert.True(t, once.LogError(logger, "site-b", "failed", err))
}

func TestOnce_ResetAllowsRelogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	once := errutil.NewOnce()

	err := errors.New("boom")

	assert.True(t, once.LogError(logger, "site", "failed", err))
	once.Reset()
	assert.True(t, once.LogError(logger, "site", "failed", err))
}
