package snapshot_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interact-space/database-safe-layer/internal/snapshot"
	"github.com/interact-space/database-safe-layer/internal/testutil"
)

func TestManager_CreateAndRestore_TableCopy(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, _ := testutil.NewTargetDB(t)
	mgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)
	ctx := context.Background()

	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY, visit_date TEXT)`)
	testutil.MustExec(t, target, `INSERT INTO visits (id, visit_date) VALUES (1, '2009-01-01'), (2, '2010-01-01'), (3, '2011-01-01')`)

	ref, err := mgr.Create(ctx, []string{"visits"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.ID, "SNAP_"))
	assert.Equal(t, "tablecopy", ref.Backend)
	assert.Equal(t, []string{"visits"}, ref.Tables)
	assert.Equal(t, int64(3), ref.RowCounts["visits"])

	// Damage the table, then restore.
	testutil.MustExec(t, target, `DELETE FROM visits WHERE id < 3`)
	require.Equal(t, int64(1), testutil.CountRows(t, target, "visits"))

	restored, err := mgr.Restore(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, restored.ID)
	assert.Equal(t, int64(3), testutil.CountRows(t, target, "visits"))
}

func TestManager_CreateDeduplicatesTables(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, _ := testutil.NewTargetDB(t)
	mgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)

	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY)`)
	testutil.MustExec(t, target, `CREATE TABLE users (id INTEGER PRIMARY KEY)`)

	ref, err := mgr.Create(context.Background(), []string{"visits", "users", "visits"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "visits"}, ref.Tables)
}

func TestManager_CreateFailsOnMissingTable(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, _ := testutil.NewTargetDB(t)
	mgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)

	_, err := mgr.Create(context.Background(), []string{"no_such_table"})
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrCapture)
}

func TestManager_RestoreUnknownID(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, _ := testutil.NewTargetDB(t)
	mgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)

	_, err := mgr.Restore(context.Background(), "SNAP_MISSING")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestManager_RestoreRejectsBackendMismatch(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, targetPath := testutil.NewTargetDB(t)
	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY)`)

	copyMgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)
	ref, err := copyMgr.Create(context.Background(), []string{"visits"})
	require.NoError(t, err)

	fileMgr := snapshot.NewManager(
		snapshot.NewSQLiteFileBackend(targetPath, t.TempDir(), target), state)
	_, err = fileMgr.Restore(context.Background(), ref.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, snapshot.ErrRestore)
}

func TestManager_ListNewestFirst(t *testing.T) {
	state := testutil.NewTestDB(t)
	target, _ := testutil.NewTargetDB(t)
	mgr := snapshot.NewManager(snapshot.NewTableCopyBackend(target), state)
	ctx := context.Background()

	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY)`)
	testutil.MustExec(t, target, `CREATE TABLE users (id INTEGER PRIMARY KEY)`)

	first, err := mgr.Create(ctx, []string{"visits"})
	require.NoError(t, err)
	second, err := mgr.Create(ctx, []string{"users"})
	require.NoError(t, err)

	refs, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	ids := []string{refs[0].ID, refs[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}
