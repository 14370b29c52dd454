// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package errutil

import (
	"log/slog"
	"sync"
)

// Once suppresses repeated logging of the same failure site. A site is any
// stable string key; the first error logged under a key is written in full,
// later errors under the same key are dropped. This keeps a subscriber that
// fails on every event from flooding the log.
type Once struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewOnce creates an empty site tracker.
func NewOnce() *Once {
	return &Once{seen: make(map[string]struct{})}
}

// LogError logs err under the given site key at most once.
// Returns true if the error was logged, false if suppressed.
func (o *Once) LogError(logger *slog.Logger, site, msg string, err error) bool {
	o.mu.Lock()
	_, dup := o.seen[site]
	if !dup {
		o.seen[site] = struct{}{}
	}
	o.mu.Unlock()

	if dup {
		return false
	}
	LogError(logger, msg, err)
	return true
}

// Reset forgets all previously logged sites.
func (o *Once) Reset() {
	o.mu.Lock()
	o.seen = make(map[string]struct{})
	o.mu.Unlock()
}
