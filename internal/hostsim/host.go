// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package hostsim is an embedded stand-in for the host application. It
// exposes the same surfaces a real host would: a diagnostic stream, a
// single-threaded tick loop, a world-ready flag and a save manager. The
// `graft run` command and the integration suite embed it so the full
// bootstrap sequence can be exercised in one process.
package hostsim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/host"
)

// Version reported through the host hooks.
const Version = "hostsim 1.0"

// Options shape the simulated boot sequence.
type Options struct {
	// TickRate is the interval between update ticks.
	TickRate time.Duration
	// BootDelay is how long the host stays silent before its first
	// diagnostic line appears.
	BootDelay time.Duration
	// WorldReadyDelay is how long after boot the world flag flips.
	WorldReadyDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickRate <= 0 {
		o.TickRate = 50 * time.Millisecond
	}
	if o.BootDelay < 0 {
		o.BootDelay = 0
	}
	if o.WorldReadyDelay < 0 {
		o.WorldReadyDelay = 0
	}
	return o
}

// Host simulates the embedding application. Tick callbacks run on the Run
// goroutine, preserving the single-threaded loop the real host provides.
type Host struct {
	logger *slog.Logger
	opts   Options

	mu        sync.Mutex
	nextToken uint64
	listeners map[uint64]host.DiagnosticListener
	ticks     []host.TickFunc
	running   bool

	worldReady atomic.Bool
}

// New creates a simulated host. If logger is nil the default logger is used.
func New(logger *slog.Logger, opts Options) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		logger:    logger,
		opts:      opts.withDefaults(),
		listeners: make(map[uint64]host.DiagnosticListener),
	}
}

// Hooks returns the host surfaces in the shape the bootstrap consumes.
func (h *Host) Hooks() host.Hooks {
	return host.Hooks{
		Diagnostics: h,
		Ticker:      h,
		WorldReady:  h.worldReady.Load,
		Version:     func() string { return Version },
	}
}

// Subscribe attaches a diagnostic listener.
func (h *Host) Subscribe(fn host.DiagnosticListener) (uint64, error) {
	if fn == nil {
		return 0, oops.In("hostsim").New("nil diagnostic listener")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextToken++
	h.listeners[h.nextToken] = fn
	return h.nextToken, nil
}

// Unsubscribe removes a diagnostic listener.
func (h *Host) Unsubscribe(token uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[token]; !ok {
		return oops.In("hostsim").With("token", token).New("unknown diagnostic token")
	}
	delete(h.listeners, token)
	return nil
}

// OnTick schedules a callback onto the update loop.
func (h *Host) OnTick(fn host.TickFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, fn)
}

// Emit pushes one line onto the diagnostic stream. Listeners are invoked
// outside the lock.
func (h *Host) Emit(line string) {
	h.mu.Lock()
	listeners := make([]host.DiagnosticListener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(line)
	}
}

// SetWorldReady flips the world-ready flag directly, for tests that drive
// the boot sequence by hand.
func (h *Host) SetWorldReady(ready bool) {
	h.worldReady.Store(ready)
}

// Step runs one synthetic update tick, for tests that drive the loop by
// hand instead of calling Run.
func (h *Host) Step(delta time.Duration) {
	h.mu.Lock()
	ticks := make([]host.TickFunc, len(h.ticks))
	copy(ticks, h.ticks)
	h.mu.Unlock()

	var keep []host.TickFunc
	for _, fn := range ticks {
		if fn(delta) {
			keep = append(keep, fn)
		}
	}

	h.mu.Lock()
	// Callbacks attached during the step survive the swap.
	added := h.ticks[len(ticks):]
	h.ticks = append(keep, added...)
	h.mu.Unlock()
}

// Run drives the boot sequence and the update loop until ctx is done. The
// first diagnostic line appears after BootDelay; the world-ready flag flips
// WorldReadyDelay later.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return oops.In("hostsim").New("host already running")
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	ticker := time.NewTicker(h.opts.TickRate)
	defer ticker.Stop()

	start := time.Now()
	last := start
	booted := false

	h.logger.Debug("host loop starting",
		slog.Duration("tick_rate", h.opts.TickRate))

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("host loop stopped")
			return nil
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			elapsed := now.Sub(start)

			if !booted && elapsed >= h.opts.BootDelay {
				booted = true
				h.Emit("scene loaded: main")
			}
			if booted && !h.worldReady.Load() &&
				elapsed >= h.opts.BootDelay+h.opts.WorldReadyDelay {
				h.worldReady.Store(true)
				h.Emit("viewport active")
			}

			h.Step(delta)
		}
	}
}

var (
	_ host.DiagnosticStream = (*Host)(nil)
	_ host.Ticker           = (*Host)(nil)
)
