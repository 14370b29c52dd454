// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package host declares the integration points graft consumes from the
// application it is embedded in. The host owns its update loop, scene
// lifecycle and save format; graft only observes these surfaces and never
// modifies host state through them.
package host

import "time"

// DiagnosticListener receives one line from the host's diagnostic stream.
type DiagnosticListener func(line string)

// DiagnosticStream is the host's process-wide diagnostic/log stream.
// Subscribe returns a token used to remove the listener again.
type DiagnosticStream interface {
	Subscribe(fn DiagnosticListener) (token uint64, err error)
	Unsubscribe(token uint64) error
}

// TickFunc is called once per host update tick with the elapsed time since
// the previous tick. Returning false detaches the callback.
type TickFunc func(delta time.Duration) bool

// Ticker schedules callbacks onto the host's single-threaded update loop.
// Callbacks attached here run on the same goroutine the host uses for its
// own updates.
type Ticker interface {
	OnTick(fn TickFunc)
}

// Hooks bundles the host surfaces the bootstrap needs. WorldReady reports
// whether the host's primary world is safe to touch, for example whether an
// active viewport exists.
type Hooks struct {
	Diagnostics DiagnosticStream
	Ticker      Ticker
	WorldReady  func() bool

	// Version reports the host's version string, if the host exposes one.
	// Optional; used only for diagnostics.
	Version func() string
}
