// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package persist

// MemoryGroup is an in-memory SaveGroup tree. It preserves insertion order
// of keys and sub-groups so serialized output is deterministic.
type MemoryGroup struct {
	values   map[string]Value
	keys     []string
	groups   map[string]*MemoryGroup
	children []string
}

// NewMemoryGroup creates an empty group tree root.
func NewMemoryGroup() *MemoryGroup {
	return &MemoryGroup{
		values: make(map[string]Value),
		groups: make(map[string]*MemoryGroup),
	}
}

// Group returns the named sub-group, creating it if absent.
func (g *MemoryGroup) Group(name string) SaveGroup {
	if sub, ok := g.groups[name]; ok {
		return sub
	}
	sub := NewMemoryGroup()
	g.groups[name] = sub
	g.children = append(g.children, name)
	return sub
}

// SetValue stores v under key, overwriting any previous value.
func (g *MemoryGroup) SetValue(key string, v Value) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.values[key] = v
}

// Value returns the value stored under key.
func (g *MemoryGroup) Value(key string) (Value, bool) {
	v, ok := g.values[key]
	return v, ok
}

// Keys returns value keys in insertion order.
func (g *MemoryGroup) Keys() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// Children returns sub-group names in insertion order.
func (g *MemoryGroup) Children() []string {
	out := make([]string, len(g.children))
	copy(out, g.children)
	return out
}

// Walk visits every value in the tree depth-first, passing the group path
// (nil for the root) and the key. Used by save stores to flatten the tree.
func (g *MemoryGroup) Walk(fn func(path []string, key string, v Value)) {
	g.walk(nil, fn)
}

func (g *MemoryGroup) walk(path []string, fn func(path []string, key string, v Value)) {
	for _, k := range g.keys {
		fn(path, k, g.values[k])
	}
	for _, name := range g.children {
		g.groups[name].walk(append(path, name), fn)
	}
}
