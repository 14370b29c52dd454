// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeManager records saveable registrations.
type fakeManager struct {
	registered []Saveable
}

func (m *fakeManager) RegisterSaveable(s Saveable) {
	m.registered = append(m.registered, s)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	var items []Value
	h := NewListHandle("inv", &items)

	r.Register(h)
	r.Register(h)
	r.Register(h)

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterBeforeManagerIsQueued(t *testing.T) {
	r := NewRegistry(nil)
	var items []Value
	h := NewListHandle("inv", &items)

	r.Register(h)

	m := &fakeManager{}
	r.AttachManager(m)

	assert.Equal(t, []Saveable{Saveable(h)}, m.registered)
}

func TestRegistry_RegisterAfterManagerAttachesImmediately(t *testing.T) {
	r := NewRegistry(nil)
	m := &fakeManager{}
	r.AttachManager(m)

	var items []Value
	h := NewListHandle("inv", &items)
	r.Register(h)

	assert.Len(t, m.registered, 1)
}

func TestRegistry_ReattachOnNewManager(t *testing.T) {
	r := NewRegistry(nil)
	var a, b []Value
	h1 := NewListHandle("a", &a)
	h2 := NewListHandle("b", &b)

	first := &fakeManager{}
	r.AttachManager(first)
	r.Register(h1)
	r.Register(h2)

	// Host starts a new session with a fresh persistence manager; every
	// previously registered handle is re-attached.
	second := &fakeManager{}
	r.AttachManager(second)

	assert.Len(t, second.registered, 2)
}

func TestRegistry_NilHandleIgnored(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(nil)
	assert.Equal(t, 0, r.Len())
}
