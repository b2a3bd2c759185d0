package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLExecutor runs approved statements against the target database. It is
// the only component in the repository that executes caller-submitted SQL
// for real.
type SQLExecutor struct {
	target *sql.DB
}

// NewSQLExecutor wraps the target database handle.
func NewSQLExecutor(target *sql.DB) *SQLExecutor {
	return &SQLExecutor{target: target}
}

// Execute runs the statement once and reports the affected row count.
// Engines that do not report counts for a statement kind yield 0.
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string) (int64, error) {
	result, err := e.target.ExecContext(ctx, sqlText)
	if err != nil {
		return 0, fmt.Errorf("executing statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Engine does not report a count; the statement still ran.
		return 0, nil
	}
	return affected, nil
}
