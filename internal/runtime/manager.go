// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package runtime is the reference extension runtime: it discovers
// extensions under the extensions directory and loads them with graceful
// degradation, so one broken extension never takes the host down.
package runtime

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/observability"
)

// LuaHost executes Lua extensions. Implemented by luahost.Host; faked in
// tests.
type LuaHost interface {
	Load(ctx context.Context, manifest *extension.Manifest, dir string) error
	Close(ctx context.Context) error
}

// Manager discovers and loads extensions. It satisfies extension.Runtime
// so the bootstrap continuation can hand it the root context.
type Manager struct {
	luaHost LuaHost
	mu      sync.RWMutex
	loaded  map[string]*Discovered
}

// Option configures the Manager.
type Option func(*Manager)

// WithLuaHost sets the Lua host used for lua-type extensions.
func WithLuaHost(h LuaHost) Option {
	return func(m *Manager) { m.luaHost = h }
}

// NewManager creates an extension manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{loaded: make(map[string]*Discovered)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discovered pairs a parsed manifest with its directory.
type Discovered struct {
	Manifest *extension.Manifest
	Dir      string
}

// APIVersion reports the host API this runtime was built against.
func (m *Manager) APIVersion() string { return extension.APIVersion }

// Discover finds all valid extensions under dir. Directories without a
// readable, valid manifest are logged and skipped.
func (m *Manager) Discover(_ context.Context, logger *slog.Logger, dir string) ([]*Discovered, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("runtime").With("dir", dir).
			Wrapf(err, "failed to read extensions directory")
	}

	var found []*Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		extDir := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(extDir, extension.ManifestFile))
		if err != nil {
			logger.Warn("skipping extension without manifest",
				slog.String("dir", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}

		manifest, err := extension.ParseManifest(data)
		if err != nil {
			logger.Warn("skipping extension with invalid manifest",
				slog.String("dir", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}

		found = append(found, &Discovered{Manifest: manifest, Dir: extDir})
	}
	return found, nil
}

// Load discovers every extension under the root's extensions directory and
// loads each one. Individual failures are logged and skipped; only a
// failure to enumerate the directory itself is returned.
func (m *Manager) Load(ctx context.Context, root *extension.RootContext) error {
	discovered, err := m.Discover(ctx, root.Logger, root.ExtensionsDir)
	if err != nil {
		return err
	}

	for _, d := range discovered {
		if err := m.loadOne(ctx, root.Logger, d); err != nil {
			root.Logger.Error("failed to load extension",
				slog.String("extension", d.Manifest.Name),
				slog.String("error", err.Error()))
			continue
		}
	}
	return nil
}

func (m *Manager) loadOne(ctx context.Context, logger *slog.Logger, d *Discovered) error {
	switch d.Manifest.Type {
	case extension.TypeLua:
		if m.luaHost == nil {
			logger.Warn("no Lua host configured, skipping extension",
				slog.String("extension", d.Manifest.Name))
			return nil
		}
		if err := m.luaHost.Load(ctx, d.Manifest, d.Dir); err != nil {
			return oops.In("runtime").With("extension", d.Manifest.Name).
				Wrapf(err, "load extension")
		}
	case extension.TypeWasm:
		// wasm modules go through the resolver's search paths instead
		// of the per-extension Lua path.
		logger.Warn("wasm extensions load through the module resolver, skipping",
			slog.String("extension", d.Manifest.Name))
		return nil
	default:
		// Manifest.Validate rejects unknown types; handle anyway.
		logger.Warn("unknown extension type, skipping",
			slog.String("extension", d.Manifest.Name),
			slog.String("type", string(d.Manifest.Type)))
		return nil
	}

	m.mu.Lock()
	m.loaded[d.Manifest.Name] = d
	count := len(m.loaded)
	m.mu.Unlock()
	observability.SetExtensionsLoaded(count)

	logger.Info("loaded extension",
		slog.String("extension", d.Manifest.Name),
		slog.String("type", string(d.Manifest.Type)),
		slog.String("version", d.Manifest.Version))
	return nil
}

// List returns the names of loaded extensions in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down the manager and its Lua host.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.loaded = make(map[string]*Discovered)
	m.mu.Unlock()

	if m.luaHost != nil {
		if err := m.luaHost.Close(ctx); err != nil {
			return oops.In("runtime").Wrapf(err, "close lua host")
		}
	}
	return nil
}

var _ extension.Runtime = (*Manager)(nil)
