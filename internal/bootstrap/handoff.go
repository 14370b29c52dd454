// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bootstrap

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/host"
	"github.com/grafthost/graft/pkg/errutil"
)

// Handoff transfers control from the detector's goroutine into the host's
// single-threaded update loop exactly once. The readiness state already
// arbitrates concurrent detection; the latch here is an independent second
// guard so future callers cannot create a second entry either.
type Handoff struct {
	logger   *slog.Logger
	ticker   host.Ticker
	newEntry func() *Entry

	mu        sync.Mutex
	triggered bool
	entry     *Entry
}

// NewHandoff creates a handoff that builds the main-loop entry via newEntry
// and attaches it to the host's tick source.
func NewHandoff(logger *slog.Logger, ticker host.Ticker, newEntry func() *Entry) *Handoff {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handoff{logger: logger, ticker: ticker, newEntry: newEntry}
}

// Trigger performs the one-shot handoff. Safe under concurrent invocation;
// only the first caller creates the entry. Failures are caught and logged,
// never propagated into the host.
func (h *Handoff) Trigger() {
	h.mu.Lock()
	if h.triggered {
		h.mu.Unlock()
		return
	}
	h.triggered = true
	h.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			errutil.LogError(h.logger, "handoff failed",
				oops.In("bootstrap").
					With("panic", fmt.Sprint(r)).
					New("panic during main loop handoff"))
		}
	}()

	entry := h.newEntry()

	h.mu.Lock()
	h.entry = entry
	h.mu.Unlock()

	h.ticker.OnTick(entry.Step)
	h.logger.Info("main loop handoff complete")
}

// Entry returns the main-loop entry created by Trigger, or nil before the
// handoff happened.
func (h *Handoff) Entry() *Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry
}
