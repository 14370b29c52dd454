// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/host"
)

// Default budgets for the handshake.
const (
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultPollAttempts       = 120
	DefaultWorldReadyBudget   = 15 * time.Second
	DefaultStabilizationDelay = 500 * time.Millisecond
)

// Options configures the bootstrap budgets. Zero values take defaults.
type Options struct {
	PollInterval       time.Duration
	PollAttempts       uint64
	WorldReadyBudget   time.Duration
	StabilizationDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollAttempts == 0 {
		o.PollAttempts = DefaultPollAttempts
	}
	if o.WorldReadyBudget <= 0 {
		o.WorldReadyBudget = DefaultWorldReadyBudget
	}
	if o.StabilizationDelay <= 0 {
		o.StabilizationDelay = DefaultStabilizationDelay
	}
	return o
}

// Bootstrap wires the detector, handoff and main-loop entry together. One
// Bootstrap is constructed per process (or per test) and owns all handshake
// state; there are no package-level singletons to reset.
type Bootstrap struct {
	Detector *Detector
	Handoff  *Handoff
}

// New builds the full handshake around the given host hooks, resolver and
// root context.
func New(logger *slog.Logger, hooks host.Hooks, resolve ResolveFunc, root *extension.RootContext, opts Options) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	newEntry := func() *Entry {
		return NewEntry(logger, hooks.WorldReady, resolve, root, opts.WorldReadyBudget, opts.StabilizationDelay)
	}
	handoff := NewHandoff(logger, hooks.Ticker, newEntry)
	detector := NewDetector(logger, hooks, handoff, opts.PollInterval, opts.PollAttempts)

	return &Bootstrap{Detector: detector, Handoff: handoff}
}

// Start launches the readiness watcher.
func (b *Bootstrap) Start(ctx context.Context) {
	b.Detector.Start(ctx)
}

// Ready reports whether the bootstrap reached its terminal Done state with
// the extension runtime loaded. Used as the observability readiness check.
func (b *Bootstrap) Ready() bool {
	entry := b.Handoff.Entry()
	return entry != nil && entry.State() == StateDone
}
