// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package bus provides the in-process event bus for extensions: fixed,
// strongly-typed broadcast channels for well-known host lifecycle moments,
// and dynamically named channels for arbitrary payloads between unrelated
// extensions.
package bus

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/observability"
	"github.com/grafthost/graft/pkg/errutil"
)

// Lifecycle payloads for the broadcast channels.
type (
	// DayAdvancedEvent fires when the host advances its in-game day.
	DayAdvancedEvent struct {
		Day int
	}

	// BeforeSaveEvent fires once per save cycle before the host writes state.
	BeforeSaveEvent struct {
		Slot string
	}

	// AfterLoadEvent fires once per load cycle after host state is restored.
	AfterLoadEvent struct {
		Slot string
	}

	// NewGameEvent fires when the host starts a fresh game session.
	NewGameEvent struct {
		Seed int64
	}

	// SessionStartedEvent fires when a play session begins.
	SessionStartedEvent struct{}

	// CombatStartedEvent fires when a combat encounter begins.
	CombatStartedEvent struct {
		EncounterID string
	}

	// PartyReturnedEvent fires when an exploration party returns.
	PartyReturnedEvent struct {
		PartyID string
	}
)

// Channel is a statically-typed multi-subscriber broadcast slot. Subscribers
// coexist; publishing invokes each inside its own panic boundary so one
// failing subscriber never prevents the others from running.
type Channel[T any] struct {
	name     string
	logger   *slog.Logger
	failures *errutil.Once

	mu   sync.Mutex
	subs []func(T)
}

func newChannel[T any](name string, logger *slog.Logger, failures *errutil.Once) *Channel[T] {
	return &Channel[T]{name: name, logger: logger, failures: failures}
}

// Subscribe adds a handler. Duplicate registrations of the same handler are
// preserved and invoked once each, matching multicast semantics.
func (c *Channel[T]) Subscribe(fn func(T)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// SubscriberCount returns the number of registered handlers.
func (c *Channel[T]) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Publish delivers payload to every subscriber. Handlers run outside the
// channel lock.
func (c *Channel[T]) Publish(payload T) {
	c.mu.Lock()
	subs := make([]func(T), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	occurrence := newOccurrenceID()
	c.logger.Debug("broadcast",
		"channel", c.name,
		"occurrence", occurrence.String(),
		"subscribers", len(subs))
	observability.RecordBusPublish(c.name)

	for _, fn := range subs {
		c.invoke(fn, payload)
	}
}

func (c *Channel[T]) invoke(fn func(T), payload T) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerFailure(c.name)
			site := fmt.Sprintf("%s#%x", c.name, reflect.ValueOf(fn).Pointer())
			err := oops.In("bus").
				With("channel", c.name).
				With("panic", fmt.Sprint(r)).
				New("subscriber panicked")
			c.failures.LogError(c.logger, site, "broadcast subscriber failed", err)
		}
	}()
	fn(payload)
}

// Broadcast holds the fixed lifecycle channels and the once-per-cycle
// suppression state for the save/load channels. The host's interception
// points may fire more often than the semantic event occurs; the raised
// flags collapse duplicates within one cycle.
type Broadcast struct {
	DayAdvanced    *Channel[DayAdvancedEvent]
	BeforeSave     *Channel[BeforeSaveEvent]
	AfterLoad      *Channel[AfterLoadEvent]
	NewGame        *Channel[NewGameEvent]
	SessionStarted *Channel[SessionStartedEvent]
	CombatStarted  *Channel[CombatStartedEvent]
	PartyReturned  *Channel[PartyReturnedEvent]

	logger *slog.Logger

	mu               sync.Mutex
	beforeSaveRaised bool
	afterLoadRaised  bool
}

// NewBroadcast creates the broadcast side of the bus. If logger is nil the
// default logger is used.
func NewBroadcast(logger *slog.Logger) *Broadcast {
	if logger == nil {
		logger = slog.Default()
	}
	failures := errutil.NewOnce()
	return &Broadcast{
		DayAdvanced:    newChannel[DayAdvancedEvent]("day-advanced", logger, failures),
		BeforeSave:     newChannel[BeforeSaveEvent]("before-save", logger, failures),
		AfterLoad:      newChannel[AfterLoadEvent]("after-load", logger, failures),
		NewGame:        newChannel[NewGameEvent]("new-game", logger, failures),
		SessionStarted: newChannel[SessionStartedEvent]("session-started", logger, failures),
		CombatStarted:  newChannel[CombatStartedEvent]("combat-started", logger, failures),
		PartyReturned:  newChannel[PartyReturnedEvent]("party-returned", logger, failures),
		logger:         logger,
	}
}

// BeginSaveCycle marks the start of a new save cycle, re-arming BeforeSave.
func (b *Broadcast) BeginSaveCycle() {
	b.mu.Lock()
	b.beforeSaveRaised = false
	b.mu.Unlock()
}

// BeginLoadCycle marks the start of a new load cycle, re-arming AfterLoad.
func (b *Broadcast) BeginLoadCycle() {
	b.mu.Lock()
	b.afterLoadRaised = false
	b.mu.Unlock()
}

// RaiseBeforeSave publishes BeforeSave at most once per save cycle.
// Duplicate interception firings within the same cycle are suppressed.
func (b *Broadcast) RaiseBeforeSave(e BeforeSaveEvent) {
	b.mu.Lock()
	raised := b.beforeSaveRaised
	b.beforeSaveRaised = true
	b.mu.Unlock()

	if raised {
		observability.RecordBusSuppressed("before-save")
		b.logger.Debug("duplicate before-save suppressed", "slot", e.Slot)
		return
	}
	b.BeforeSave.Publish(e)
}

// RaiseAfterLoad publishes AfterLoad at most once per load cycle.
func (b *Broadcast) RaiseAfterLoad(e AfterLoadEvent) {
	b.mu.Lock()
	raised := b.afterLoadRaised
	b.afterLoadRaised = true
	b.mu.Unlock()

	if raised {
		observability.RecordBusSuppressed("after-load")
		b.logger.Debug("duplicate after-load suppressed", "slot", e.Slot)
		return
	}
	b.AfterLoad.Publish(e)
}
