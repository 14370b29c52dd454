// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bootstrap_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafthost/graft/internal/bootstrap"
	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/host"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	boot     *bootstrap.Bootstrap
	stream   *fakeStream
	ticker   *fakeTicker
	log      *bytes.Buffer
	resolved *int
	mu       *sync.Mutex
}

func newHarness(t *testing.T, opts bootstrap.Options, worldReady func() bool) *harness {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	stream := newFakeStream()
	ticker := &fakeTicker{}
	if worldReady == nil {
		worldReady = func() bool { return true }
	}
	hooks := host.Hooks{
		Diagnostics: stream,
		Ticker:      ticker,
		WorldReady:  worldReady,
		Version:     func() string { return "1.2.3-test" },
	}

	var mu sync.Mutex
	resolved := 0
	resolve := func(context.Context, *extension.RootContext) error {
		mu.Lock()
		resolved++
		mu.Unlock()
		return nil
	}

	root := &extension.RootContext{Logger: logger}
	return &harness{
		boot:     bootstrap.New(logger, hooks, resolve, root, opts),
		stream:   stream,
		ticker:   ticker,
		log:      &buf,
		resolved: &resolved,
		mu:       &mu,
	}
}

func (h *harness) resolveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.resolved
}

func fastOpts() bootstrap.Options {
	return bootstrap.Options{
		PollInterval:       time.Millisecond,
		PollAttempts:       50,
		WorldReadyBudget:   time.Second,
		StabilizationDelay: 10 * time.Millisecond,
	}
}

func TestDetector_ReadinessSignalTriggersHandoff(t *testing.T) {
	h := newHarness(t, fastOpts(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot.Start(ctx)

	// Wait for the listener to be installed, then emit a diagnostic line.
	require.Eventually(t, func() bool { return h.stream.listenerCount() > 0 },
		time.Second, time.Millisecond)
	h.stream.Emit("host: world subsystem online")

	select {
	case <-h.boot.Detector.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after readiness")
	}

	assert.Equal(t, bootstrap.Triggered, h.boot.Detector.State())
	assert.Equal(t, 1, h.ticker.attached())
	// Listener is removed immediately on detection.
	assert.Equal(t, 0, h.stream.listenerCount())
	assert.Contains(t, h.log.String(), "host runtime ready")
	assert.Contains(t, h.log.String(), "1.2.3-test")
}

func TestDetector_TimeoutAfterBoundedAttempts(t *testing.T) {
	opts := fastOpts()
	opts.PollAttempts = 5
	h := newHarness(t, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot.Start(ctx)

	select {
	case <-h.boot.Detector.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not terminate after attempt budget")
	}

	assert.Equal(t, bootstrap.NotReady, h.boot.Detector.State())
	// No continuation object, no resolution attempt.
	assert.Nil(t, h.boot.Handoff.Entry())
	assert.Equal(t, 0, h.resolveCount())
	// Exactly one timeout line.
	assert.Equal(t, 1, strings.Count(h.log.String(), "readiness signal never observed"))
}

func TestDetector_StartIsIdempotent(t *testing.T) {
	h := newHarness(t, fastOpts(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot.Start(ctx)
	h.boot.Start(ctx)
	h.boot.Start(ctx)

	require.Eventually(t, func() bool { return h.stream.listenerCount() > 0 },
		time.Second, time.Millisecond)
	h.stream.Emit("ready")
	<-h.boot.Detector.Done()

	// A single watcher produced a single handoff.
	assert.Equal(t, 1, h.ticker.attached())
}

func TestDetector_ListenerInstallFailureRetried(t *testing.T) {
	h := newHarness(t, fastOpts(), nil)
	h.stream.setFailSubscribe(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot.Start(ctx)

	// Several attempts fail silently, then installation starts succeeding.
	require.Eventually(t, func() bool {
		h.stream.mu.Lock()
		defer h.stream.mu.Unlock()
		return h.stream.subscribeCalls >= 3
	}, time.Second, time.Millisecond)
	h.stream.setFailSubscribe(false)

	require.Eventually(t, func() bool { return h.stream.listenerCount() > 0 },
		time.Second, time.Millisecond)
	h.stream.Emit("ready at last")
	<-h.boot.Detector.Done()

	assert.Equal(t, bootstrap.Triggered, h.boot.Detector.State())
}

func TestDetector_DuplicateDiagnosticLinesHarmless(t *testing.T) {
	h := newHarness(t, fastOpts(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.boot.Start(ctx)

	require.Eventually(t, func() bool { return h.stream.listenerCount() > 0 },
		time.Second, time.Millisecond)

	// Concurrent duplicate signals: first caller wins, one entry results.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.stream.Emit("spammy diagnostic line")
		}()
	}
	wg.Wait()
	<-h.boot.Detector.Done()

	assert.Equal(t, 1, h.ticker.attached())
}

func TestDetector_CancelStopsWatcherQuietly(t *testing.T) {
	opts := fastOpts()
	opts.PollAttempts = 10000
	h := newHarness(t, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.boot.Start(ctx)
	cancel()

	select {
	case <-h.boot.Detector.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
	assert.NotContains(t, h.log.String(), "readiness signal never observed")
}
