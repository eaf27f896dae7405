// Package journal provides an append-only sqlite-backed audit trail of
// plugin lifecycle transitions — an audit of the manager's own supervision
// activity, not persistence of chat/embedding content, so it doesn't
// conflict with the runtime's non-goals. Uses pure-Go SQLite
// (modernc.org/sqlite), mirroring the teacher's internal/registry.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded lifecycle transition.
type Entry struct {
	PluginID   int64
	Name       string
	Transition string
	Detail     string
	At         time.Time
}

// DB wraps an sqlite database holding the plugin lifecycle journal.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("journal: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}

	jdb := &DB{db: db}
	if err := jdb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return jdb, nil
}

// Close closes the underlying database.
func (j *DB) Close() error { return j.db.Close() }

func (j *DB) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			plugin_id   INTEGER NOT NULL,
			name        TEXT NOT NULL,
			transition  TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// Record appends one lifecycle event. Callers treat a Record failure as
// non-fatal to the triggering supervision operation — the journal is a
// diagnostic trail, not a source of truth.
func (j *DB) Record(e Entry) error {
	_, err := j.db.Exec(
		`INSERT INTO lifecycle_events (plugin_id, name, transition, detail) VALUES (?, ?, ?, ?)`,
		e.PluginID, e.Name, e.Transition, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n lifecycle events across all plugins,
// newest first.
func (j *DB) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT plugin_id, name, transition, detail, occurred_at
		   FROM lifecycle_events ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.PluginID, &e.Name, &e.Transition, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At, _ = time.Parse("2006-01-02 15:04:05", at)
		out = append(out, e)
	}
	return out, rows.Err()
}
