// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package persist

import "fmt"

// SaveGroup is one named scope in the host's grouped key-value save format.
// Group enters (creating if needed) a nested scope.
type SaveGroup interface {
	Group(name string) SaveGroup
	SetValue(key string, v Value)
	Value(key string) (Value, bool)
}

// Saveable is the contract a persistent collection handle fulfills. The
// collection itself is owned by the extension that registered it; graft only
// walks it during the host's save/load traversal.
type Saveable interface {
	SaveName() string
	Save(g SaveGroup) error
	Load(g SaveGroup) error
}

// ListHandle persists an externally-owned, order-preserving slice of values.
// Elements are written under positional keys i0, i1, ... together with a
// count. On load the target slice is cleared and repopulated from the stored
// count; missing trailing entries degrade to a shorter slice, never an error.
type ListHandle struct {
	name  string
	items *[]Value
}

// NewListHandle wraps items for automatic persistence under the given group
// name. items must be non-nil; the slice stays owned by the caller.
func NewListHandle(name string, items *[]Value) *ListHandle {
	return &ListHandle{name: name, items: items}
}

// SaveName returns the group name this handle persists under.
func (h *ListHandle) SaveName() string { return h.name }

// Save writes the collection into its group scope.
func (h *ListHandle) Save(g SaveGroup) error {
	grp := g.Group(h.name)
	grp.SetValue("count", Int(int64(len(*h.items))))
	for i, v := range *h.items {
		grp.SetValue(fmt.Sprintf("i%d", i), v)
	}
	return nil
}

// Load clears the collection and repopulates it from the stored count.
func (h *ListHandle) Load(g SaveGroup) error {
	grp := g.Group(h.name)
	*h.items = (*h.items)[:0]

	countVal, ok := grp.Value("count")
	if !ok {
		return nil
	}
	count, ok := countVal.Int()
	if !ok {
		return nil
	}
	for i := int64(0); i < count; i++ {
		v, ok := grp.Value(fmt.Sprintf("i%d", i))
		if !ok {
			break
		}
		*h.items = append(*h.items, v)
	}
	return nil
}

// Entry is one key/value pair of a keyed collection.
type Entry struct {
	Key string
	Val Value
}

// MapHandle persists an externally-owned, order-preserving keyed collection.
// Each entry is written as a sub-group e0, e1, ... holding key and val.
type MapHandle struct {
	name    string
	entries *[]Entry
}

// NewMapHandle wraps entries for automatic persistence under the given group
// name. entries must be non-nil; the slice stays owned by the caller.
func NewMapHandle(name string, entries *[]Entry) *MapHandle {
	return &MapHandle{name: name, entries: entries}
}

// SaveName returns the group name this handle persists under.
func (h *MapHandle) SaveName() string { return h.name }

// Save writes the collection into its group scope.
func (h *MapHandle) Save(g SaveGroup) error {
	grp := g.Group(h.name)
	grp.SetValue("count", Int(int64(len(*h.entries))))
	for i, e := range *h.entries {
		sub := grp.Group(fmt.Sprintf("e%d", i))
		sub.SetValue("key", String(e.Key))
		sub.SetValue("val", e.Val)
	}
	return nil
}

// Load clears the collection and repopulates it from the stored count.
// Entries whose key or val cannot be read are skipped, shortening the
// collection rather than failing the load.
func (h *MapHandle) Load(g SaveGroup) error {
	grp := g.Group(h.name)
	*h.entries = (*h.entries)[:0]

	countVal, ok := grp.Value("count")
	if !ok {
		return nil
	}
	count, ok := countVal.Int()
	if !ok {
		return nil
	}
	for i := int64(0); i < count; i++ {
		sub := grp.Group(fmt.Sprintf("e%d", i))
		keyVal, ok := sub.Value("key")
		if !ok {
			continue
		}
		key, ok := keyVal.Str()
		if !ok {
			continue
		}
		val, ok := sub.Value("val")
		if !ok {
			continue
		}
		*h.entries = append(*h.entries, Entry{Key: key, Val: val})
	}
	return nil
}
