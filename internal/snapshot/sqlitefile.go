package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// SQLiteFileBackend captures by copying the whole SQLite database file.
// Capture is only a valid safety boundary because the gate serializes it
// against any execution touching the same tables; the file copy itself has
// no isolation of its own.
type SQLiteFileBackend struct {
	dbPath      string
	snapshotDir string
	db          *sql.DB
}

// NewSQLiteFileBackend builds the backend for the database file at dbPath,
// placing snapshot copies under snapshotDir. The open handle is used only
// for row counting at capture time.
func NewSQLiteFileBackend(dbPath, snapshotDir string, db *sql.DB) *SQLiteFileBackend {
	return &SQLiteFileBackend{dbPath: dbPath, snapshotDir: snapshotDir, db: db}
}

// Name implements Backend.
func (b *SQLiteFileBackend) Name() string { return "sqlitefile" }

// Capabilities implements Backend.
func (b *SQLiteFileBackend) Capabilities() Capabilities {
	return Capabilities{
		AtomicCapture:   true,
		ConsistencyNote: "whole-file copy; consistent only because the gate serializes capture against writes on the same tables",
	}
}

// Capture implements Backend. The whole database file is copied, so the
// snapshot covers the listed tables (and everything else) at once.
func (b *SQLiteFileBackend) Capture(ctx context.Context, id string, tables []string) (string, map[string]int64, error) {
	if err := os.MkdirAll(b.snapshotDir, 0o700); err != nil {
		return "", nil, fmt.Errorf("creating snapshot dir: %w", err)
	}

	// Flush the WAL so the file copy sees every committed write.
	if _, err := b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", nil, fmt.Errorf("checkpointing before capture: %w", err)
	}

	dest := filepath.Join(b.snapshotDir, id+".db")
	if err := copyFile(b.dbPath, dest); err != nil {
		return "", nil, fmt.Errorf("copying database file: %w", err)
	}

	rowCounts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		q := fmt.Sprintf("SELECT count(*) FROM %s", sqlast.QuoteIdentifier(table))
		if err := b.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
			_ = os.Remove(dest)
			return "", nil, fmt.Errorf("counting rows of %s: %w", table, err)
		}
		rowCounts[table] = count
	}

	return dest, rowCounts, nil
}

// Restore implements Backend. The copy goes to a temp file first and is
// renamed over the live database, so a failed copy leaves prior state
// untouched. Callers must ensure no writer holds the database during
// restore.
func (b *SQLiteFileBackend) Restore(ctx context.Context, ref *Ref) error {
	if _, err := os.Stat(ref.Location); err != nil {
		return fmt.Errorf("%w: snapshot file %s: %v", ErrNotFound, ref.Location, err)
	}

	tmp := b.dbPath + ".restore-tmp"
	if err := copyFile(ref.Location, tmp); err != nil {
		return fmt.Errorf("staging restore copy: %w", err)
	}

	// Idle pooled connections keep the replaced inode open and would read
	// pre-restore data; drop them so later queries open the new file.
	b.db.SetMaxIdleConns(0)
	defer b.db.SetMaxIdleConns(2) // database/sql default

	if err := os.Rename(tmp, b.dbPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing database file: %w", err)
	}

	// Stale WAL/SHM content would shadow the restored file.
	_ = os.Remove(b.dbPath + "-wal")
	_ = os.Remove(b.dbPath + "-shm")
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
