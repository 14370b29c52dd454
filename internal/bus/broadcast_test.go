// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bus_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grafthost/graft/internal/bus"
)

func newBroadcast(t *testing.T) (*bus.Broadcast, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return bus.NewBroadcast(logger), &buf
}

func TestBroadcast_MultipleSubscribersCoexist(t *testing.T) {
	b, _ := newBroadcast(t)

	var first, second []int
	b.DayAdvanced.Subscribe(func(e bus.DayAdvancedEvent) { first = append(first, e.Day) })
	b.DayAdvanced.Subscribe(func(e bus.DayAdvancedEvent) { second = append(second, e.Day) })

	b.DayAdvanced.Publish(bus.DayAdvancedEvent{Day: 3})

	assert.Equal(t, []int{3}, first)
	assert.Equal(t, []int{3}, second)
}

func TestBroadcast_BeforeSaveOncePerCycle(t *testing.T) {
	b, _ := newBroadcast(t)

	var got int
	b.BeforeSave.Subscribe(func(bus.BeforeSaveEvent) { got++ })

	b.BeginSaveCycle()
	b.RaiseBeforeSave(bus.BeforeSaveEvent{Slot: "slot1"})
	b.RaiseBeforeSave(bus.BeforeSaveEvent{Slot: "slot1"})
	b.RaiseBeforeSave(bus.BeforeSaveEvent{Slot: "slot1"})
	assert.Equal(t, 1, got)

	// New cycle re-arms the channel.
	b.BeginSaveCycle()
	b.RaiseBeforeSave(bus.BeforeSaveEvent{Slot: "slot2"})
	assert.Equal(t, 2, got)
}

func TestBroadcast_AfterLoadOncePerCycle(t *testing.T) {
	b, _ := newBroadcast(t)

	var got int
	b.AfterLoad.Subscribe(func(bus.AfterLoadEvent) { got++ })

	b.BeginLoadCycle()
	b.RaiseAfterLoad(bus.AfterLoadEvent{Slot: "a"})
	b.RaiseAfterLoad(bus.AfterLoadEvent{Slot: "a"})
	assert.Equal(t, 1, got)

	b.BeginLoadCycle()
	b.RaiseAfterLoad(bus.AfterLoadEvent{Slot: "a"})
	assert.Equal(t, 2, got)
}

func TestBroadcast_SubscriberPanicIsolated(t *testing.T) {
	b, buf := newBroadcast(t)

	var delivered []string
	b.CombatStarted.Subscribe(func(bus.CombatStartedEvent) { panic("bad subscriber") })
	b.CombatStarted.Subscribe(func(e bus.CombatStartedEvent) { delivered = append(delivered, e.EncounterID) })

	b.CombatStarted.Publish(bus.CombatStartedEvent{EncounterID: "enc1"})
	b.CombatStarted.Publish(bus.CombatStartedEvent{EncounterID: "enc2"})

	// Second subscriber receives every payload despite the first panicking.
	assert.Equal(t, []string{"enc1", "enc2"}, delivered)

	// The recurring failure is logged exactly once.
	failures := strings.Count(buf.String(), "broadcast subscriber failed")
	assert.Equal(t, 1, failures)
}

func TestBroadcast_DuplicateHandlerPreserved(t *testing.T) {
	b, _ := newBroadcast(t)

	var got int
	fn := func(bus.SessionStartedEvent) { got++ }
	b.SessionStarted.Subscribe(fn)
	b.SessionStarted.Subscribe(fn)

	b.SessionStarted.Publish(bus.SessionStartedEvent{})

	assert.Equal(t, 2, got)
	assert.Equal(t, 2, b.SessionStarted.SubscriberCount())
}

func TestBroadcast_NilSubscriberIgnored(t *testing.T) {
	b, _ := newBroadcast(t)

	b.NewGame.Subscribe(nil)
	assert.Equal(t, 0, b.NewGame.SubscriberCount())

	// Publishing with no subscribers is a safe no-op.
	b.NewGame.Publish(bus.NewGameEvent{Seed: 42})
}
