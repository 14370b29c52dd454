// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/observability"
	"github.com/grafthost/graft/pkg/errutil"
)

// EntryState is the phase of the single-threaded continuation.
type EntryState uint8

// Entry states. Done and TimedOut are terminal.
const (
	StateCreated EntryState = iota
	StateAwaitingWorldReady
	StateAwaitingStabilization
	StateResolving
	StateDone
	StateTimedOut
)

// String returns the state name for logs.
func (s EntryState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingWorldReady:
		return "awaiting-world-ready"
	case StateAwaitingStabilization:
		return "awaiting-stabilization"
	case StateResolving:
		return "resolving"
	case StateDone:
		return "done"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ResolveFunc loads the extension runtime. Invoked synchronously from a Step
// call, i.e. on the host's update goroutine.
type ResolveFunc func(ctx context.Context, root *extension.RootContext) error

// Entry is the single-threaded continuation of the bootstrap. It waits,
// yielding one host tick at a time, for the primary world to become ready,
// settles for one further fixed delay, then resolves the extension runtime.
// Both waits are measured in accumulated per-tick deltas, not wall time.
type Entry struct {
	logger     *slog.Logger
	worldReady func() bool
	resolve    ResolveFunc
	root       *extension.RootContext

	worldBudget   time.Duration
	stabilization time.Duration

	mu      sync.Mutex
	state   EntryState
	waited  time.Duration
	settled time.Duration
}

// NewEntry creates an entry in the Created state.
func NewEntry(logger *slog.Logger, worldReady func() bool, resolve ResolveFunc, root *extension.RootContext, worldBudget, stabilization time.Duration) *Entry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Entry{
		logger:        logger,
		worldReady:    worldReady,
		resolve:       resolve,
		root:          root,
		worldBudget:   worldBudget,
		stabilization: stabilization,
	}
}

// State returns the current phase.
func (e *Entry) State() EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Terminal reports whether the entry reached Done or TimedOut.
func (e *Entry) Terminal() bool {
	s := e.State()
	return s == StateDone || s == StateTimedOut
}

// Step advances the state machine by one host tick. Returns false once the
// entry is terminal so the host detaches the callback. Panics inside the
// world predicate or the resolver are caught; nothing escapes into the host
// loop.
func (e *Entry) Step(delta time.Duration) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.state = StateTimedOut
			e.mu.Unlock()
			observability.RecordBootstrapOutcome("resolve-failed")
			errutil.LogError(e.logger, "bootstrap continuation aborted",
				oops.In("bootstrap").
					With("panic", fmt.Sprint(r)).
					New("panic during bootstrap step"))
			cont = false
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateCreated:
		e.state = StateAwaitingWorldReady
		fallthrough

	case StateAwaitingWorldReady:
		if e.worldReady() {
			e.logger.Debug("primary world ready", "waited", e.waited.String())
			e.state = StateAwaitingStabilization
			return true
		}
		e.waited += delta
		if e.waited >= e.worldBudget {
			e.state = StateTimedOut
			observability.RecordBootstrapOutcome("world-timeout")
			errutil.LogError(e.logger, "primary world never became ready",
				oops.In("bootstrap").
					Code("WORLD_TIMEOUT").
					With("budget", e.worldBudget.String()).
					New("world readiness budget exhausted"))
			return false
		}
		return true

	case StateAwaitingStabilization:
		// One extra settle window so late host initializers finish before
		// any extension code runs.
		e.settled += delta
		if e.settled < e.stabilization {
			return true
		}
		e.state = StateResolving
		fallthrough

	case StateResolving:
		e.runResolve()
		return false

	default:
		// Terminal; the host should already have detached us.
		return false
	}
}

// runResolve invokes the resolver synchronously on the calling goroutine,
// which is the host's update goroutine. Called with e.mu held; the terminal
// state is published before the lock is released.
func (e *Entry) runResolve() {
	ctx := context.Background()
	if err := e.resolve(ctx, e.root); err != nil {
		e.state = StateDone
		observability.RecordBootstrapOutcome("resolve-failed")
		// Fatal to the bootstrap, not to the host: the host keeps running
		// without extensions.
		errutil.LogError(e.logger, "extension runtime load failed", err)
		return
	}
	e.state = StateDone
	observability.RecordBootstrapOutcome("done")
	e.logger.Info("extension runtime loaded")
}
