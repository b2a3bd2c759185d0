// Package db owns the SQLite state database (audit runs, snapshot refs)
// and the live execution collaborator.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the state database connection.
type DB struct {
	*sql.DB
	path string
}

// schema is idempotent; OpenAndMigrate applies it on every open.
const schema = `
CREATE TABLE IF NOT EXISTS audit_runs (
	run_id       TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	risk_level   TEXT NOT NULL,
	final_status TEXT NOT NULL,
	record_json  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_runs_created_at ON audit_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_runs_risk_level ON audit_runs(risk_level);
CREATE INDEX IF NOT EXISTS idx_audit_runs_fingerprint ON audit_runs(fingerprint);

CREATE TABLE IF NOT EXISTS snapshot_refs (
	id              TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	backend         TEXT NOT NULL,
	tables_json     TEXT NOT NULL,
	location        TEXT NOT NULL,
	row_counts_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshot_refs_created_at ON snapshot_refs(created_at);
`

// OpenAndMigrate opens (creating if needed) the state database at path and
// applies the schema. synchronous=FULL backs the audit log's durability
// contract: a committed append survives a crash.
func OpenAndMigrate(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("state db path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating state db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating state db: %w", err)
	}

	return &DB{DB: conn, path: path}, nil
}

// Path returns the state database file path.
func (db *DB) Path() string { return db.path }

// OpenTarget opens the target database the gate protects. Same engine, no
// state schema.
func OpenTarget(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("target database path is required")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening target database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring target database: %w", err)
	}
	return conn, nil
}
