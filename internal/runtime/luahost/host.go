// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package luahost

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/grafthost/graft/internal/bus"
	"github.com/grafthost/graft/internal/extension"
	"github.com/grafthost/graft/internal/persist"
)

// instance is one loaded Lua extension. The state lives for the extension's
// lifetime so handlers registered at load time keep their upvalues; calls
// into the state are serialized by mu because named-channel publishes can
// arrive from any goroutine.
type instance struct {
	name  string
	mu    sync.Mutex
	state *lua.LState
	subs  []subscription
}

type subscription struct {
	channel string
	handler func(string)
}

// call invokes a stored Lua function with a string payload.
func (in *instance) call(logger *slog.Logger, channel string, fn lua.LValue, payload string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LString(payload)); err != nil {
		logger.Warn("extension handler failed",
			slog.String("extension", in.name),
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

// Host manages Lua extensions bound to a root context.
type Host struct {
	factory *StateFactory
	root    *extension.RootContext

	mu     sync.Mutex
	exts   map[string]*instance
	closed bool
}

// New creates a Lua extension host. Panics if root is nil.
func New(root *extension.RootContext) *Host {
	if root == nil {
		panic("luahost.New: root context cannot be nil")
	}
	return &Host{
		factory: NewStateFactory(),
		root:    root,
		exts:    make(map[string]*instance),
	}
}

// Load reads the extension's entry script and executes it in a fresh
// sandboxed state with the graft.* API registered. Top-level code runs at
// load time, which is where extensions subscribe and register their
// persistent collections.
func (h *Host) Load(ctx context.Context, manifest *extension.Manifest, dir string) error {
	errb := oops.In("luahost").With("extension", manifest.Name)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errb.New("host is closed")
	}
	if _, dup := h.exts[manifest.Name]; dup {
		h.mu.Unlock()
		return errb.New("extension already loaded")
	}
	h.mu.Unlock()

	if manifest.Lua == nil {
		return errb.New("manifest has no lua section")
	}

	entryPath := filepath.Join(dir, manifest.Lua.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return errb.With("path", entryPath).
			Hint("failed to read entry file").Wrap(err)
	}

	L, err := h.factory.NewState(ctx)
	if err != nil {
		return errb.Hint("failed to create state").Wrap(err)
	}
	L.SetContext(ctx)

	in := &instance{name: manifest.Name, state: L}
	h.registerAPI(L, in)

	if err := L.DoString(string(code)); err != nil {
		h.teardown(in)
		L.Close()
		return errb.With("entry", manifest.Lua.Entry).
			Hint("script error").Wrap(err)
	}

	h.mu.Lock()
	h.exts[manifest.Name] = in
	h.mu.Unlock()
	return nil
}

// Unload removes an extension, dropping its bus subscriptions and closing
// its state.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	in, ok := h.exts[name]
	delete(h.exts, name)
	h.mu.Unlock()

	if !ok {
		return oops.In("luahost").With("extension", name).New("extension not loaded")
	}
	h.teardown(in)
	in.state.Close()
	return nil
}

// Extensions returns names of loaded extensions.
func (h *Host) Extensions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.exts))
	for name := range h.exts {
		names = append(names, name)
	}
	return names
}

// Close shuts down the host and every loaded extension.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	exts := h.exts
	h.exts = make(map[string]*instance)
	h.closed = true
	h.mu.Unlock()

	for _, in := range exts {
		h.teardown(in)
		in.state.Close()
	}
	return nil
}

func (h *Host) teardown(in *instance) {
	for _, s := range in.subs {
		bus.Unsubscribe(h.root.Named, s.channel, s.handler)
	}
	in.subs = nil
}

// registerAPI installs the graft table into the state, bound to this
// instance.
func (h *Host) registerAPI(L *lua.LState, in *instance) {
	graft := L.NewTable()

	L.SetField(graft, "log", L.NewFunction(func(s *lua.LState) int {
		msg := s.CheckString(1)
		h.root.Logger.Info(msg, slog.String("extension", in.name))
		return 0
	}))

	L.SetField(graft, "publish", L.NewFunction(func(s *lua.LState) int {
		channel := s.CheckString(1)
		payload := s.CheckString(2)
		h.root.Named.Publish(channel, payload)
		return 0
	}))

	L.SetField(graft, "subscribe", L.NewFunction(func(s *lua.LState) int {
		channel := s.CheckString(1)
		fn := s.CheckFunction(2)

		handler := func(payload string) {
			in.call(h.root.Logger, channel, fn, payload)
		}
		bus.Subscribe(h.root.Named, channel, handler)
		in.subs = append(in.subs, subscription{channel: channel, handler: handler})
		return 0
	}))

	L.SetField(graft, "register_list", L.NewFunction(func(s *lua.LState) int {
		name := s.CheckString(1)

		items := new([]persist.Value)
		h.root.Persist.Register(persist.NewListHandle(name, items))
		s.Push(newListProxy(s, items))
		return 1
	}))

	L.SetGlobal("graft", graft)
}

// newListProxy builds the Lua-side view of a persistent string list with
// append/get/len/clear. Values written from Lua are stored as strings.
func newListProxy(L *lua.LState, items *[]persist.Value) *lua.LTable {
	t := L.NewTable()

	L.SetField(t, "append", L.NewFunction(func(s *lua.LState) int {
		v := s.CheckString(1)
		*items = append(*items, persist.String(v))
		return 0
	}))

	L.SetField(t, "get", L.NewFunction(func(s *lua.LState) int {
		i := s.CheckInt(1)
		if i < 1 || i > len(*items) {
			s.Push(lua.LNil)
			return 1
		}
		str, ok := (*items)[i-1].Str()
		if !ok {
			s.Push(lua.LNil)
			return 1
		}
		s.Push(lua.LString(str))
		return 1
	}))

	L.SetField(t, "len", L.NewFunction(func(s *lua.LState) int {
		s.Push(lua.LNumber(len(*items)))
		return 1
	}))

	L.SetField(t, "clear", L.NewFunction(func(_ *lua.LState) int {
		*items = (*items)[:0]
		return 0
	}))

	return t
}
