// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package resolve

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/grafthost/graft/internal/extension"
)

// hostModules are import namespaces provided by the host itself; imports
// from these never trigger filesystem resolution.
var hostModules = map[string]struct{}{
	"graft":                  {},
	"env":                    {},
	"wasi_snapshot_preview1": {},
}

// WazeroLoader instantiates guest modules inside a shared wazero runtime.
// A "graft" host module is exported to guests, bound to the services in
// the root context.
type WazeroLoader struct {
	runtime wazero.Runtime
	root    *extension.RootContext
}

// NewWazeroLoader builds the runtime and instantiates the host modules.
func NewWazeroLoader(ctx context.Context, root *extension.RootContext) (*WazeroLoader, error) {
	l := &WazeroLoader{
		runtime: wazero.NewRuntime(ctx),
		root:    root,
	}
	wasi_snapshot_preview1.MustInstantiate(ctx, l.runtime)

	_, err := l.runtime.NewHostModuleBuilder("graft").
		NewFunctionBuilder().WithFunc(l.hostLog).Export("log").
		NewFunctionBuilder().WithFunc(l.hostPublish).Export("publish").
		Instantiate(ctx)
	if err != nil {
		closeErr := l.runtime.Close(ctx)
		if closeErr != nil {
			root.Logger.Warn("runtime close after failed host module setup",
				slog.String("error", closeErr.Error()))
		}
		return nil, oops.In("resolve").
			Code("LOAD_FAILED").
			Wrapf(err, "failed to instantiate host module")
	}
	return l, nil
}

// Dependencies compiles the binary and reports the guest modules it
// imports, in first-appearance order, one entry per module.
func (l *WazeroLoader) Dependencies(ctx context.Context, binary []byte) ([]string, error) {
	compiled, err := l.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := compiled.Close(ctx); cerr != nil {
			l.root.Logger.Warn("compiled module close",
				slog.String("error", cerr.Error()))
		}
	}()

	seen := make(map[string]struct{})
	var deps []string
	for _, fn := range compiled.ImportedFunctions() {
		modName, _, _ := fn.Import()
		if _, host := hostModules[modName]; host {
			continue
		}
		if _, dup := seen[modName]; dup {
			continue
		}
		seen[modName] = struct{}{}
		deps = append(deps, modName)
	}
	return deps, nil
}

// Instantiate loads the binary under the given module name. Imports from
// guest modules link against modules already instantiated in this runtime.
func (l *WazeroLoader) Instantiate(ctx context.Context, name string, binary []byte) (Module, error) {
	cfg := wazero.NewModuleConfig().WithName(name)
	mod, err := l.runtime.InstantiateWithConfig(ctx, binary, cfg)
	if err != nil {
		return nil, err
	}
	return &wazeroModule{name: name, mod: mod}, nil
}

func (l *WazeroLoader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// hostLog is the graft.log import: (ptr, len) of a UTF-8 message in guest
// memory.
func (l *WazeroLoader) hostLog(_ context.Context, m wazeroapi.Module, ptr, n uint32) {
	msg, ok := m.Memory().Read(ptr, n)
	if !ok {
		l.root.Logger.Warn("guest log read out of bounds",
			slog.String("module", m.Name()))
		return
	}
	l.root.Logger.Info(string(msg), slog.String("module", m.Name()))
}

// hostPublish is the graft.publish import: (namePtr, nameLen, payloadPtr,
// payloadLen) publishing a string payload on a named channel.
func (l *WazeroLoader) hostPublish(_ context.Context, m wazeroapi.Module, namePtr, nameLen, payloadPtr, payloadLen uint32) {
	name, ok := m.Memory().Read(namePtr, nameLen)
	if !ok {
		l.root.Logger.Warn("guest publish read out of bounds",
			slog.String("module", m.Name()))
		return
	}
	payload, ok := m.Memory().Read(payloadPtr, payloadLen)
	if !ok {
		l.root.Logger.Warn("guest publish read out of bounds",
			slog.String("module", m.Name()))
		return
	}
	l.root.Named.Publish(string(name), string(payload))
}

// wazeroModule adapts an instantiated guest to the Module interface. The
// contract exports use the packed pointer convention: a u64 whose high 32
// bits are a guest memory offset and low 32 bits a byte length.
type wazeroModule struct {
	name string
	mod  wazeroapi.Module
}

func (m *wazeroModule) Name() string { return m.name }

func (m *wazeroModule) APIVersion(ctx context.Context) (string, error) {
	fn := m.mod.ExportedFunction("graft_api_version")
	if fn == nil {
		return "", oops.In("resolve").With("module", m.name).
			Code("CONTRACT_MISSING").
			Errorf("module does not export graft_api_version")
	}
	res, err := fn.Call(ctx)
	if err != nil {
		return "", err
	}
	if len(res) != 1 {
		return "", oops.In("resolve").With("module", m.name).
			Code("CONTRACT_MISSING").
			Errorf("graft_api_version returned %d values, want 1", len(res))
	}
	ptr := uint32(res[0] >> 32)
	n := uint32(res[0])
	raw, ok := m.mod.Memory().Read(ptr, n)
	if !ok {
		return "", oops.In("resolve").With("module", m.name).
			Code("CONTRACT_MISSING").
			Errorf("graft_api_version points outside guest memory")
	}
	return string(raw), nil
}

func (m *wazeroModule) Invoke(ctx context.Context) error {
	fn := m.mod.ExportedFunction("graft_load")
	if fn == nil {
		return oops.In("resolve").With("module", m.name).
			Code("CONTRACT_MISSING").
			Errorf("module does not export graft_load")
	}
	res, err := fn.Call(ctx)
	if err != nil {
		return oops.In("resolve").With("module", m.name).
			Code("LOAD_FAILED").
			Wrapf(err, "graft_load trapped")
	}
	if len(res) == 1 && res[0] != 0 {
		return oops.In("resolve").With("module", m.name).
			Code("LOAD_FAILED").
			Errorf("graft_load reported status %d", res[0])
	}
	return nil
}

func (m *wazeroModule) Close(ctx context.Context) error {
	return m.mod.Close(ctx)
}

var _ Loader = (*WazeroLoader)(nil)
