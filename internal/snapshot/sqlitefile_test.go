package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interact-space/database-safe-layer/internal/db"
	"github.com/interact-space/database-safe-layer/internal/snapshot"
	"github.com/interact-space/database-safe-layer/internal/testutil"
)

func TestSQLiteFileBackend_CaptureAndRestore(t *testing.T) {
	state := testutil.NewTestDB(t)
	targetPath := filepath.Join(t.TempDir(), "target.db")
	snapshotDir := t.TempDir()
	ctx := context.Background()

	target, err := db.OpenTarget(targetPath)
	require.NoError(t, err)
	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY, visit_date TEXT)`)
	testutil.MustExec(t, target, `INSERT INTO visits (id, visit_date) VALUES (1, '2009-01-01'), (2, '2011-01-01')`)

	mgr := snapshot.NewManager(
		snapshot.NewSQLiteFileBackend(targetPath, snapshotDir, target), state)

	ref, err := mgr.Create(ctx, []string{"visits"})
	require.NoError(t, err)
	assert.Equal(t, "sqlitefile", ref.Backend)
	assert.Equal(t, int64(2), ref.RowCounts["visits"])

	// The snapshot is a standalone database file.
	info, err := os.Stat(ref.Location)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// Damage the data, release the handle, restore, reopen, verify.
	testutil.MustExec(t, target, `DELETE FROM visits`)
	require.NoError(t, target.Close())

	_, err = mgr.Restore(ctx, ref.ID)
	require.NoError(t, err)

	reopened, err := db.OpenTarget(targetPath)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(2), testutil.CountRows(t, reopened, "visits"))
}

func TestSQLiteFileBackend_RestoreVisibleThroughOpenHandle(t *testing.T) {
	state := testutil.NewTestDB(t)
	targetPath := filepath.Join(t.TempDir(), "target.db")
	ctx := context.Background()

	target, err := db.OpenTarget(targetPath)
	require.NoError(t, err)
	defer target.Close()
	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY)`)
	testutil.MustExec(t, target, `INSERT INTO visits (id) VALUES (1), (2), (3)`)

	mgr := snapshot.NewManager(
		snapshot.NewSQLiteFileBackend(targetPath, t.TempDir(), target), state)

	ref, err := mgr.Create(ctx, []string{"visits"})
	require.NoError(t, err)

	testutil.MustExec(t, target, `DELETE FROM visits WHERE id > 1`)
	require.Equal(t, int64(1), testutil.CountRows(t, target, "visits"))

	// The pool stays open across the restore; queries afterwards must see
	// the restored file, not a connection pinned to the replaced inode.
	_, err = mgr.Restore(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), testutil.CountRows(t, target, "visits"))
}
