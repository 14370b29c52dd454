// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package resolve locates and loads extension runtime modules. The entry
// binary lives at a fixed well-known path; any modules it imports are
// resolved on miss: already-loaded modules win by exact name, then each
// search path is probed in order for <name>.wasm.
package resolve

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/extension"
)

// EntryBinary is the file name of the extension runtime entry module,
// looked up under the primary module directory.
const EntryBinary = "graft-runtime.wasm"

// Module is a loaded guest module. The entry module additionally satisfies
// the exported contract checked by LoadExtensionRuntime.
type Module interface {
	// Name is the module name the guest was instantiated under.
	Name() string
	// APIVersion calls the exported graft_api_version function.
	APIVersion(ctx context.Context) (string, error)
	// Invoke calls the exported graft_load function. Host-side services
	// (logging, bus, persistence) are bound at loader construction.
	Invoke(ctx context.Context) error
	Close(ctx context.Context) error
}

// Loader instantiates guest binaries. The production implementation wraps
// wazero; tests substitute an in-process fake.
type Loader interface {
	// Dependencies reports the distinct guest modules a binary imports,
	// excluding host-provided namespaces.
	Dependencies(ctx context.Context, binary []byte) ([]string, error)
	// Instantiate loads a binary under the given module name, linking its
	// imports against modules already instantiated in the same runtime.
	Instantiate(ctx context.Context, name string, binary []byte) (Module, error)
	Close(ctx context.Context) error
}

// Resolver loads the extension runtime entry binary and resolves its
// module dependencies against a loaded-module table and ordered search
// paths.
type Resolver struct {
	logger     *slog.Logger
	loader     Loader
	primaryDir string
	rootDir    string

	mu     sync.Mutex
	loaded map[string]Module
}

// New builds a Resolver. primaryDir is searched before rootDir; both may
// point at the same directory.
func New(logger *slog.Logger, loader Loader, primaryDir, rootDir string) *Resolver {
	return &Resolver{
		logger:     logger,
		loader:     loader,
		primaryDir: primaryDir,
		rootDir:    rootDir,
		loaded:     make(map[string]Module),
	}
}

// EntryPath is the fixed location of the entry binary.
func (r *Resolver) EntryPath() string {
	return filepath.Join(r.primaryDir, EntryBinary)
}

// LoadExtensionRuntime loads the entry binary, verifies its exported
// contract, and invokes it. Errors abort the bootstrap continuation but
// never the process; the caller decides whether to log and give up.
func (r *Resolver) LoadExtensionRuntime(ctx context.Context) error {
	errb := oops.In("resolve").With("path", r.EntryPath())

	binary, err := os.ReadFile(r.EntryPath())
	if err != nil {
		return errb.Code("ENTRY_MISSING").
			Hint("install the extension runtime under the module directory").
			Wrapf(err, "extension runtime entry binary not found")
	}

	name := moduleName(EntryBinary)
	mod, err := r.load(ctx, name, binary)
	if err != nil {
		return err
	}

	version, err := mod.APIVersion(ctx)
	if err != nil {
		return errb.Code("CONTRACT_MISSING").
			Hint("the entry module must export graft_api_version and graft_load").
			Wrapf(err, "extension runtime does not satisfy the loader contract")
	}
	if err := extension.CheckAPIVersion(version); err != nil {
		return err
	}

	r.logger.Info("extension runtime resolved",
		slog.String("module", name),
		slog.String("api_version", version),
	)
	return mod.Invoke(ctx)
}

// Lookup reports the loaded module registered under name, if any.
func (r *Resolver) Lookup(name string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.loaded[name]
	return m, ok
}

// Close releases every loaded module and the underlying runtime.
func (r *Resolver) Close(ctx context.Context) error {
	r.mu.Lock()
	r.loaded = make(map[string]Module)
	r.mu.Unlock()
	return r.loader.Close(ctx)
}

// load instantiates a binary after resolving its imports depth-first.
func (r *Resolver) load(ctx context.Context, name string, binary []byte) (Module, error) {
	deps, err := r.loader.Dependencies(ctx, binary)
	if err != nil {
		return nil, oops.In("resolve").With("module", name).
			Code("LOAD_FAILED").
			Wrapf(err, "failed to inspect module imports")
	}
	for _, dep := range deps {
		if err := r.resolveDependency(ctx, dep); err != nil {
			return nil, err
		}
	}

	mod, err := r.loader.Instantiate(ctx, name, binary)
	if err != nil {
		return nil, oops.In("resolve").With("module", name).
			Code("LOAD_FAILED").
			Wrapf(err, "failed to instantiate module")
	}

	r.mu.Lock()
	r.loaded[name] = mod
	r.mu.Unlock()

	r.logger.Debug("module loaded", slog.String("module", name))
	return mod, nil
}

// resolveDependency satisfies a missing import. A module already loaded
// under the exact name wins without touching the filesystem; otherwise the
// primary directory and then the root directory are probed for
// <name>.wasm.
func (r *Resolver) resolveDependency(ctx context.Context, name string) error {
	r.mu.Lock()
	_, ok := r.loaded[name]
	r.mu.Unlock()
	if ok {
		return nil
	}

	for _, dir := range []string{r.primaryDir, r.rootDir} {
		path := filepath.Join(dir, name+".wasm")
		binary, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return oops.In("resolve").With("module", name).With("path", path).
				Code("LOAD_FAILED").
				Wrapf(err, "failed to read module binary")
		}
		r.logger.Debug("dependency resolved from search path",
			slog.String("module", name),
			slog.String("path", path),
		)
		_, err = r.load(ctx, name, binary)
		return err
	}

	return oops.In("resolve").With("module", name).
		Code("MODULE_NOT_FOUND").
		Hint("place the module next to the entry binary or in the root module directory").
		Errorf("module %q not found in any search path", name)
}

func moduleName(file string) string {
	base := filepath.Base(file)
	return base[:len(base)-len(filepath.Ext(base))]
}
