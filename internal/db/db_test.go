package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interact-space/database-safe-layer/internal/db"
	"github.com/interact-space/database-safe-layer/internal/snapshot"
	"github.com/interact-space/database-safe-layer/internal/testutil"
)

func TestOpenAndMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	first, err := db.OpenAndMigrate(path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())
	require.NoError(t, first.Close())

	// Second open re-applies the schema without error.
	second, err := db.OpenAndMigrate(path)
	require.NoError(t, err)
	defer second.Close()

	var n int
	err = second.QueryRow(`SELECT count(*) FROM audit_runs`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenAndMigrate_RequiresPath(t *testing.T) {
	_, err := db.OpenAndMigrate("")
	assert.Error(t, err)
}

func TestSnapshotRefRoundTrip(t *testing.T) {
	state := testutil.NewTestDB(t)
	ctx := context.Background()

	ref := &snapshot.Ref{
		ID:        "SNAP_20260830_120000_abcd1234",
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Backend:   "tablecopy",
		Tables:    []string{"users", "visits"},
		Location:  "dbsafe_snap_snap_20260830_120000_abcd1234",
		RowCounts: map[string]int64{"users": 10, "visits": 3214},
	}
	require.NoError(t, state.SaveSnapshotRef(ctx, ref))

	got, err := state.GetSnapshotRef(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, got.ID)
	assert.Equal(t, ref.Backend, got.Backend)
	assert.Equal(t, ref.Tables, got.Tables)
	assert.Equal(t, ref.RowCounts, got.RowCounts)
	assert.True(t, ref.CreatedAt.Equal(got.CreatedAt))

	// Refs are immutable: same id cannot be saved twice.
	assert.Error(t, state.SaveSnapshotRef(ctx, ref))
}

func TestListSnapshotRefs_OrderAcrossSecondBoundary(t *testing.T) {
	state := testutil.NewTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	save := func(id string, at time.Time) {
		require.NoError(t, state.SaveSnapshotRef(ctx, &snapshot.Ref{
			ID:        id,
			CreatedAt: at,
			Backend:   "tablecopy",
			Tables:    []string{"users"},
			Location:  "loc_" + id,
		}))
	}
	// A whole-second stamp must sort after an earlier fractional one.
	save("SNAP_ON_SECOND", base.Add(time.Second))
	save("SNAP_FRACTIONAL", base.Add(500*time.Millisecond))

	refs, err := state.ListSnapshotRefs(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "SNAP_ON_SECOND", refs[0].ID)
	assert.Equal(t, "SNAP_FRACTIONAL", refs[1].ID)
}

func TestGetSnapshotRef_Unknown(t *testing.T) {
	state := testutil.NewTestDB(t)

	_, err := state.GetSnapshotRef(context.Background(), "SNAP_NOPE")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestSQLExecutor_Execute(t *testing.T) {
	target, _ := testutil.NewTargetDB(t)
	testutil.MustExec(t, target, `CREATE TABLE visits (id INTEGER PRIMARY KEY)`)
	testutil.MustExec(t, target, `INSERT INTO visits (id) VALUES (1), (2), (3)`)

	exec := db.NewSQLExecutor(target)

	affected, err := exec.Execute(context.Background(), "DELETE FROM visits WHERE id > 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Equal(t, int64(1), testutil.CountRows(t, target, "visits"))
}

func TestSQLExecutor_ExecuteError(t *testing.T) {
	target, _ := testutil.NewTargetDB(t)
	exec := db.NewSQLExecutor(target)

	_, err := exec.Execute(context.Background(), "DELETE FROM no_such_table")
	assert.Error(t, err)
}
