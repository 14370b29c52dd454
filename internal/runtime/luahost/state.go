// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package luahost runs Lua extensions in sandboxed states with the graft.*
// host API registered.
package luahost

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library permitted inside the sandbox.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// Safe: base, table, string, math. Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are base library functions blocked because they reach
// the filesystem.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []safeLibrary
}

// NewStateFactory creates a state factory with the default safe libraries.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultSafeLibraries()}
}

// NewState creates a fresh Lua state with only the safe libraries loaded
// and filesystem-reaching base functions removed.
func (f *StateFactory) NewState(_ context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}
