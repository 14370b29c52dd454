// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package hostsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafthost/graft/internal/persist"
)

func TestSQLiteStore_RoundTripPreservesOrder(t *testing.T) {
	store := openTestStore(t)

	root := persist.NewMemoryGroup()
	root.SetValue("version", persist.Int(3))
	inv := root.Group("inventory")
	inv.SetValue("count", persist.Int(2))
	inv.SetValue("i0", persist.String("sword"))
	inv.SetValue("i1", persist.String("shield"))
	root.Group("position").SetValue("p", persist.V2(persist.Vec2{X: 1.5, Y: -2}))

	require.NoError(t, store.Write("slot-1", root))

	got, ok, err := store.Read("slot-1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"version"}, got.Keys())
	assert.Equal(t, []string{"inventory", "position"}, got.Children())

	invGot := got.Group("inventory")
	assert.Equal(t, []string{"count", "i0", "i1"}, invGot.(*persist.MemoryGroup).Keys())

	v, ok := got.Group("position").Value("p")
	require.True(t, ok)
	vec, ok := v.Vec2()
	require.True(t, ok)
	assert.Equal(t, persist.Vec2{X: 1.5, Y: -2}, vec)
}

func TestSQLiteStore_MissingSlot(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Read("never-written")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_WriteReplacesSlot(t *testing.T) {
	store := openTestStore(t)

	first := persist.NewMemoryGroup()
	first.SetValue("a", persist.Int(1))
	first.SetValue("b", persist.Int(2))
	require.NoError(t, store.Write("slot-1", first))

	second := persist.NewMemoryGroup()
	second.SetValue("c", persist.Int(3))
	require.NoError(t, store.Write("slot-1", second))

	got, ok, err := store.Read("slot-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, got.Keys())
	_, stale := got.Value("a")
	assert.False(t, stale)
}

func TestSQLiteStore_SlotsAreIsolated(t *testing.T) {
	store := openTestStore(t)

	one := persist.NewMemoryGroup()
	one.SetValue("k", persist.String("one"))
	two := persist.NewMemoryGroup()
	two.SetValue("k", persist.String("two"))
	require.NoError(t, store.Write("slot-1", one))
	require.NoError(t, store.Write("slot-2", two))

	slots, err := store.Slots()
	require.NoError(t, err)
	assert.Equal(t, []string{"slot-1", "slot-2"}, slots)

	got, ok, err := store.Read("slot-2")
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := got.Value("k")
	s, _ := v.Str()
	assert.Equal(t, "two", s)
}
