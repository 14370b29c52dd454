// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package hostsim

import (
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"github.com/grafthost/graft/internal/persist"
)

const saveSchema = `
CREATE TABLE IF NOT EXISTS save_values (
	slot TEXT NOT NULL,
	path TEXT NOT NULL,
	key  TEXT NOT NULL,
	kind TEXT NOT NULL,
	raw  TEXT NOT NULL,
	seq  INTEGER NOT NULL,
	PRIMARY KEY (slot, path, key)
);
CREATE INDEX IF NOT EXISTS idx_save_values_slot ON save_values (slot, seq);
`

// SQLiteStore persists save slots as flattened grouped key-value rows. Each
// value keeps its insertion sequence so the grouped tree rebuilds in the
// original order.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens (or creates) the save database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	errb := oops.In("hostsim").With("path", path)

	if strings.TrimSpace(path) == "" {
		return nil, errb.New("save store path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errb.Wrapf(err, "open save store")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errb.Wrapf(err, "ping save store")
	}
	if _, err := db.Exec(saveSchema); err != nil {
		_ = db.Close()
		return nil, errb.Wrapf(err, "create save schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Write replaces the slot's contents with the flattened tree.
func (s *SQLiteStore) Write(slot string, root *persist.MemoryGroup) error {
	errb := oops.In("hostsim").With("slot", slot)

	tx, err := s.db.Begin()
	if err != nil {
		return errb.Wrapf(err, "begin save transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM save_values WHERE slot = ?`, slot); err != nil {
		return errb.Wrapf(err, "clear save slot")
	}

	stmt, err := tx.Prepare(`INSERT INTO save_values (slot, path, key, kind, raw, seq) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errb.Wrapf(err, "prepare save insert")
	}
	defer func() { _ = stmt.Close() }()

	seq := 0
	var walkErr error
	root.Walk(func(path []string, key string, v persist.Value) {
		if walkErr != nil {
			return
		}
		kind, raw := v.Encode()
		_, walkErr = stmt.Exec(slot, strings.Join(path, "/"), key, kind, raw, seq)
		seq++
	})
	if walkErr != nil {
		return errb.Wrapf(walkErr, "write save value")
	}

	if err := tx.Commit(); err != nil {
		return errb.Wrapf(err, "commit save transaction")
	}
	return nil
}

// Read rebuilds the slot's grouped tree. The second return is false when
// the slot has never been written.
func (s *SQLiteStore) Read(slot string) (*persist.MemoryGroup, bool, error) {
	errb := oops.In("hostsim").With("slot", slot)

	rows, err := s.db.Query(
		`SELECT path, key, kind, raw FROM save_values WHERE slot = ? ORDER BY seq`, slot)
	if err != nil {
		return nil, false, errb.Wrapf(err, "query save slot")
	}
	defer func() { _ = rows.Close() }()

	root := persist.NewMemoryGroup()
	found := false
	for rows.Next() {
		found = true
		var path, key, kind, raw string
		if err := rows.Scan(&path, &key, &kind, &raw); err != nil {
			return nil, false, errb.Wrapf(err, "scan save value")
		}

		v, err := persist.Decode(kind, raw)
		if err != nil {
			return nil, false, errb.With("key", key).
				Wrapf(err, "decode save value")
		}

		g := persist.SaveGroup(root)
		if path != "" {
			for _, name := range strings.Split(path, "/") {
				g = g.Group(name)
			}
		}
		g.SetValue(key, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errb.Wrapf(err, "iterate save slot")
	}
	return root, found, nil
}

// Slots lists every slot that has been written, sorted by name.
func (s *SQLiteStore) Slots() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT slot FROM save_values ORDER BY slot`)
	if err != nil {
		return nil, oops.In("hostsim").Wrapf(err, "list save slots")
	}
	defer func() { _ = rows.Close() }()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, oops.In("hostsim").Wrapf(err, "scan save slot name")
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

var _ SaveStore = (*SQLiteStore)(nil)
