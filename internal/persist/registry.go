// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package persist

import (
	"log/slog"
	"sync"

	"github.com/grafthost/graft/internal/observability"
)

// SaveManager is the host's persistence manager. Handles registered with it
// participate in the host's save/load traversal.
type SaveManager interface {
	RegisterSaveable(s Saveable)
}

// Registry tracks persistent collection handles across save manager
// lifetimes. A handle registered before the manager exists is queued and
// flushed into it the moment the manager becomes available; when the host
// recreates its manager (a new game session) every handle is re-attached.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	manager SaveManager
	handles []Saveable
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a handle. Registration is idempotent: registering the same
// handle again is a no-op, compared by identity, so handles should be
// pointers. If a save manager is attached, the handle is registered with it
// immediately; otherwise it is queued for the next AttachManager.
func (r *Registry) Register(h Saveable) {
	if h == nil {
		return
	}

	r.mu.Lock()
	for _, existing := range r.handles {
		if existing == h {
			r.mu.Unlock()
			r.logger.Debug("persistent handle already registered", "name", h.SaveName())
			return
		}
	}
	r.handles = append(r.handles, h)
	manager := r.manager
	count := len(r.handles)
	r.mu.Unlock()
	observability.SetPersistHandles(count)

	r.logger.Debug("persistent handle registered", "name", h.SaveName())
	if manager != nil {
		manager.RegisterSaveable(h)
	}
}

// AttachManager points the registry at a (re)initialized save manager and
// re-attaches every previously registered handle to it.
func (r *Registry) AttachManager(m SaveManager) {
	if m == nil {
		return
	}

	r.mu.Lock()
	r.manager = m
	handles := make([]Saveable, len(r.handles))
	copy(handles, r.handles)
	r.mu.Unlock()

	r.logger.Debug("save manager attached", "handles", len(handles))
	for _, h := range handles {
		m.RegisterSaveable(h)
	}
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
