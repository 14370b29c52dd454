// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package hostsim

import (
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/bus"
	"github.com/grafthost/graft/internal/persist"
)

// SaveStore persists one grouped key-value tree per save slot.
type SaveStore interface {
	Write(slot string, root *persist.MemoryGroup) error
	Read(slot string) (*persist.MemoryGroup, bool, error)
	Slots() ([]string, error)
	Close() error
}

// SaveManager is the host's persistence manager: it owns the saveable set
// for the current game session and drives the save/load lifecycle events
// on the broadcast bus. Recreating the manager models a new session; the
// persistence registry re-attaches every handle to the new instance.
type SaveManager struct {
	logger    *slog.Logger
	broadcast *bus.Broadcast
	store     SaveStore

	mu        sync.Mutex
	saveables []persist.Saveable
}

// NewSaveManager creates a save manager backed by store.
func NewSaveManager(logger *slog.Logger, broadcast *bus.Broadcast, store SaveStore) *SaveManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveManager{logger: logger, broadcast: broadcast, store: store}
}

// RegisterSaveable adds a saveable to this session. Duplicate registrations
// of the same saveable are ignored.
func (m *SaveManager) RegisterSaveable(s persist.Saveable) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.saveables {
		if existing == s {
			return
		}
	}
	m.saveables = append(m.saveables, s)
}

// Save runs one save cycle: re-arm the lifecycle flags, raise BeforeSave so
// extensions can flush state into their handles, collect every saveable
// into a grouped tree and write it to the store. A saveable that fails is
// logged and skipped; the rest of the cycle proceeds.
func (m *SaveManager) Save(slot string) error {
	m.broadcast.BeginSaveCycle()
	m.broadcast.RaiseBeforeSave(bus.BeforeSaveEvent{Slot: slot})

	m.mu.Lock()
	saveables := make([]persist.Saveable, len(m.saveables))
	copy(saveables, m.saveables)
	m.mu.Unlock()

	root := persist.NewMemoryGroup()
	for _, s := range saveables {
		if err := s.Save(root.Group(s.SaveName())); err != nil {
			m.logger.Warn("saveable failed, skipping",
				slog.String("name", s.SaveName()),
				slog.String("slot", slot),
				slog.String("error", err.Error()))
		}
	}

	if err := m.store.Write(slot, root); err != nil {
		return oops.In("hostsim").With("slot", slot).
			Wrapf(err, "failed to write save slot")
	}

	m.logger.Info("game saved",
		slog.String("slot", slot),
		slog.Int("saveables", len(saveables)))
	return nil
}

// Load runs one load cycle: read the slot, re-arm the lifecycle flags,
// repopulate every saveable from the stored tree and raise AfterLoad so
// extensions can react to the restored state.
func (m *SaveManager) Load(slot string) error {
	root, ok, err := m.store.Read(slot)
	if err != nil {
		return oops.In("hostsim").With("slot", slot).
			Wrapf(err, "failed to read save slot")
	}
	if !ok {
		return oops.In("hostsim").With("slot", slot).
			Code("SLOT_NOT_FOUND").
			Errorf("save slot %q does not exist", slot)
	}

	m.broadcast.BeginLoadCycle()

	m.mu.Lock()
	saveables := make([]persist.Saveable, len(m.saveables))
	copy(saveables, m.saveables)
	m.mu.Unlock()

	for _, s := range saveables {
		if err := s.Load(root.Group(s.SaveName())); err != nil {
			m.logger.Warn("saveable failed to load, skipping",
				slog.String("name", s.SaveName()),
				slog.String("slot", slot),
				slog.String("error", err.Error()))
		}
	}

	m.broadcast.RaiseAfterLoad(bus.AfterLoadEvent{Slot: slot})

	m.logger.Info("game loaded",
		slog.String("slot", slot),
		slog.Int("saveables", len(saveables)))
	return nil
}

var _ persist.SaveManager = (*SaveManager)(nil)
