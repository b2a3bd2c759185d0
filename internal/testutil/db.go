package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/interact-space/database-safe-layer/internal/db"
)

// NewTestDB returns a temporary, migrated SQLite state database for tests.
//
// The caller does not need to close it; cleanup is registered on t.Cleanup.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	return NewTestDBAtPath(t, path)
}

// NewTestDBAtPath creates a migrated SQLite state database at a specific path.
func NewTestDBAtPath(t *testing.T, path string) *db.DB {
	t.Helper()

	if path == "" {
		t.Fatalf("NewTestDBAtPath: path is required")
	}

	database, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// NewTargetDB returns a temporary SQLite target database, the thing the
// gate protects, along with its file path for file-level snapshot tests.
func NewTargetDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "target.db")
	return NewTargetDBAtPath(t, path), path
}

// NewTargetDBAtPath opens a target database at a specific path.
func NewTargetDBAtPath(t *testing.T, path string) *sql.DB {
	t.Helper()

	conn, err := db.OpenTarget(path)
	if err != nil {
		t.Fatalf("opening target db: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// MustExec runs a statement against the target database, failing the test on
// error.
func MustExec(t *testing.T, conn *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// CountRows returns the row count of a table in the target database.
func CountRows(t *testing.T, conn *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := conn.QueryRowContext(context.Background(),
		"SELECT count(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}
