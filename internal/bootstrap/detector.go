// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package bootstrap implements the handshake with the host: detecting that
// the host runtime is initialized enough to be touched, handing control into
// its single-threaded update loop exactly once, and driving the cooperative
// wait that precedes extension runtime resolution.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/grafthost/graft/internal/host"
	"github.com/grafthost/graft/internal/observability"
	"github.com/grafthost/graft/pkg/errutil"
)

// ReadinessState tracks whether the host readiness signal has been observed.
// It is monotonic: set exactly once, never reset.
type ReadinessState uint8

// Readiness states.
const (
	NotReady ReadinessState = iota
	Triggered
)

var errNotReady = errors.New("host not ready")

// Detector watches for a one-time signal proving the host runtime has
// progressed far enough to register callbacks. The signal is the first line
// observed on the host's diagnostic stream after a listener is installed.
// This is a heuristic stand-in for a real readiness API: a host that never
// logs within the polling window is reported as a timeout even if it is in
// fact ready.
type Detector struct {
	logger  *slog.Logger
	hooks   host.Hooks
	handoff *Handoff

	interval time.Duration
	attempts uint64

	started  atomic.Bool
	observed atomic.Bool
	done     chan struct{}

	mu                sync.Mutex
	state             ReadinessState
	listenerInstalled bool
	listenerToken     uint64
}

// NewDetector creates a detector that invokes handoff once readiness is
// observed. interval is the poll cadence, attempts the bounded budget.
func NewDetector(logger *slog.Logger, hooks host.Hooks, handoff *Handoff, interval time.Duration, attempts uint64) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger:   logger,
		hooks:    hooks,
		handoff:  handoff,
		interval: interval,
		attempts: attempts,
		done:     make(chan struct{}),
	}
}

// State returns the current readiness state.
func (d *Detector) State() ReadinessState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done is closed when the watcher goroutine exits, whether by detection or
// by exhausting its attempt budget.
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

// Start launches the background watcher. It is idempotent: repeated calls
// launch at most one watcher for the process lifetime.
func (d *Detector) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.watch(ctx)
}

func (d *Detector) watch(ctx context.Context) {
	defer close(d.done)

	// attempts-1 retries after the initial attempt.
	backoff := retry.WithMaxRetries(d.attempts-1, retry.NewConstant(d.interval))
	err := retry.Do(ctx, backoff, func(context.Context) error {
		if d.attempt() {
			return nil
		}
		return retry.RetryableError(errNotReady)
	})
	if err == nil {
		return
	}

	d.removeListener()
	if ctx.Err() != nil {
		d.logger.Debug("readiness watcher canceled")
		return
	}

	// Bootstrap-fatal: the whole extension ecosystem stays dormant. The log
	// line is the only way operators find out.
	observability.RecordBootstrapOutcome("readiness-timeout")
	errutil.LogError(d.logger, "host readiness signal never observed",
		oops.In("bootstrap").
			Code("READINESS_TIMEOUT").
			With("attempts", d.attempts).
			With("interval", d.interval.String()).
			New("readiness polling budget exhausted"))
}

// attempt runs one poll cycle. Returns true when readiness has been handled
// and the watcher should stop.
func (d *Detector) attempt() bool {
	d.mu.Lock()
	if d.state == Triggered {
		d.mu.Unlock()
		return true
	}
	if !d.listenerInstalled && d.hooks.Diagnostics != nil {
		token, err := d.hooks.Diagnostics.Subscribe(d.onDiagnostic)
		if err != nil {
			// Best effort: the host may not accept listeners yet. Retry on
			// the next cycle.
			d.logger.Debug("diagnostic listener install failed", "error", err)
		} else {
			d.listenerInstalled = true
			d.listenerToken = token
		}
	}
	d.mu.Unlock()

	if d.observed.Load() {
		d.detect()
		return true
	}
	return false
}

// onDiagnostic runs on whatever goroutine the host logs from.
func (d *Detector) onDiagnostic(string) {
	if d.observed.CompareAndSwap(false, true) {
		d.detect()
	}
}

// detect flips the readiness state exactly once and performs the handoff.
// Safe under concurrent invocation from the watcher and listener paths; the
// mutex arbitrates, first caller wins.
func (d *Detector) detect() {
	d.mu.Lock()
	if d.state == Triggered {
		d.mu.Unlock()
		return
	}
	d.state = Triggered
	d.mu.Unlock()

	d.removeListener()
	d.logHostVersion()
	d.handoff.Trigger()
}

// removeListener detaches the diagnostic listener so it cannot fire again.
// Failures are tolerated: the listener is a transient diagnostic aid.
func (d *Detector) removeListener() {
	d.mu.Lock()
	installed := d.listenerInstalled
	token := d.listenerToken
	d.listenerInstalled = false
	d.mu.Unlock()

	if !installed || d.hooks.Diagnostics == nil {
		return
	}
	if err := d.hooks.Diagnostics.Unsubscribe(token); err != nil {
		d.logger.Debug("diagnostic listener remove failed", "error", err)
	}
}

// logHostVersion reports the host version if the hook provides one.
// Best-effort diagnostics: a panicking hook is ignored.
func (d *Detector) logHostVersion() {
	defer func() {
		_ = recover()
	}()
	version := "unknown"
	if d.hooks.Version != nil {
		version = d.hooks.Version()
	}
	d.logger.Info("host runtime ready", "host_version", version)
}
