package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/interact-space/database-safe-layer/internal/snapshot"
)

// timeLayout pads fractional seconds to a fixed width so ORDER BY on the
// stored TEXT matches time order across whole-second boundaries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveSnapshotRef implements snapshot.Store. Refs are immutable; saving an
// existing id is an error.
func (db *DB) SaveSnapshotRef(ctx context.Context, ref *snapshot.Ref) error {
	tablesJSON, err := json.Marshal(ref.Tables)
	if err != nil {
		return fmt.Errorf("encoding snapshot tables: %w", err)
	}
	countsJSON, err := json.Marshal(ref.RowCounts)
	if err != nil {
		return fmt.Errorf("encoding snapshot row counts: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshot_refs (id, created_at, backend, tables_json, location, row_counts_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ref.ID, ref.CreatedAt.UTC().Format(timeLayout), ref.Backend,
		string(tablesJSON), ref.Location, string(countsJSON))
	if err != nil {
		return fmt.Errorf("saving snapshot ref: %w", err)
	}
	return nil
}

// GetSnapshotRef implements snapshot.Store.
func (db *DB) GetSnapshotRef(ctx context.Context, id string) (*snapshot.Ref, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, created_at, backend, tables_json, location, row_counts_json
		FROM snapshot_refs WHERE id = ?
	`, id)

	ref, err := scanSnapshotRef(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
		}
		return nil, err
	}
	return ref, nil
}

// ListSnapshotRefs implements snapshot.Store, newest first.
func (db *DB) ListSnapshotRefs(ctx context.Context) ([]*snapshot.Ref, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, backend, tables_json, location, row_counts_json
		FROM snapshot_refs ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot refs: %w", err)
	}
	defer rows.Close()

	var refs []*snapshot.Ref
	for rows.Next() {
		ref, err := scanSnapshotRef(rows.Scan)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot refs: %w", err)
	}
	return refs, nil
}

func scanSnapshotRef(scan func(...any) error) (*snapshot.Ref, error) {
	ref := &snapshot.Ref{}
	var createdAt, tablesJSON, countsJSON string

	if err := scan(&ref.ID, &createdAt, &ref.Backend, &tablesJSON, &ref.Location, &countsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot ref: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot created_at: %w", err)
	}
	ref.CreatedAt = t

	if err := json.Unmarshal([]byte(tablesJSON), &ref.Tables); err != nil {
		return nil, fmt.Errorf("decoding snapshot tables: %w", err)
	}
	if err := json.Unmarshal([]byte(countsJSON), &ref.RowCounts); err != nil {
		return nil, fmt.Errorf("decoding snapshot row counts: %w", err)
	}
	return ref, nil
}
