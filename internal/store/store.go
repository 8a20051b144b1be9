package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNoRuns is returned when the store holds no analysis run yet
var ErrNoRuns = errors.New("no runs stored")

// ErrNotFound is returned when a requested artifact does not exist
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	created_at      INTEGER NOT NULL,
	sources         TEXT NOT NULL,
	node_count      INTEGER NOT NULL,
	path_count      INTEGER NOT NULL,
	conflicts       INTEGER NOT NULL,
	collisions      INTEGER NOT NULL,
	skipped_sources INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS nodes (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rule_id   INTEGER NOT NULL,
	parent_id INTEGER NOT NULL,
	text      TEXT NOT NULL,
	url       TEXT,
	PRIMARY KEY (run_id, rule_id)
);

CREATE TABLE IF NOT EXISTS call_paths (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	key       TEXT NOT NULL,
	source    TEXT NOT NULL,
	call_id   TEXT NOT NULL,
	call_date TEXT,
	weekday   INTEGER,
	length    INTEGER NOT NULL,
	body      TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name   TEXT NOT NULL,
	body   BLOB NOT NULL,
	PRIMARY KEY (run_id, name)
);
`

// DB wraps a SQLite database connection
type DB struct {
	conn *sql.DB
	Path string
}

// OpenDB opens a SQLite database with WAL mode and foreign keys enabled and
// creates the schema if needed
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{conn: conn, Path: path}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}
