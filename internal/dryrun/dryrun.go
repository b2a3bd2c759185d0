// Package dryrun estimates the impact of a statement without executing it.
//
// Mutating statements are rewritten into row-count queries over their own
// predicates; the rewritten query runs inside a transaction that is rolled
// back on every exit path, so a dry run can never leave observable side
// effects.
package dryrun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// ErrEstimate wraps every estimation failure (rewrite or read-only
// execution). The gate aborts the run before approval when it sees this.
var ErrEstimate = errors.New("dry-run estimation failed")

// Result is the outcome of one estimation.
type Result struct {
	// EstimatedRows is the number of rows the statement would touch.
	EstimatedRows int64 `json:"estimated_rows"`
	// Exact is false when the estimate can drift under concurrent writes.
	Exact bool `json:"exact"`
	// RewrittenQuery is the count query that produced the estimate. Empty
	// when the count came from literal VALUES rows.
	RewrittenQuery string `json:"rewritten_query,omitempty"`
}

// Querier is the read-only slice of *sql.DB the estimator needs.
type Querier interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Estimator rewrites statements to count queries and runs them read-only.
type Estimator struct {
	parser sqlast.Parser
	db     Querier
}

// New builds an estimator over the target database.
func New(parser sqlast.Parser, db Querier) *Estimator {
	return &Estimator{parser: parser, db: db}
}

// Estimate produces the dry-run result for stmt, or an error wrapping
// ErrEstimate. Statements with no count form (DDL) propagate
// sqlast.ErrNoRewrite inside the wrap.
func (e *Estimator) Estimate(ctx context.Context, stmt *sqlast.Statement) (*Result, error) {
	rewrite, err := e.parser.RewriteToCount(stmt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstimate, err)
	}

	if rewrite.Literal {
		return &Result{EstimatedRows: rewrite.LiteralCount, Exact: rewrite.Exact}, nil
	}

	count, err := e.runCount(ctx, rewrite.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEstimate, err)
	}

	return &Result{
		EstimatedRows:  count,
		Exact:          rewrite.Exact,
		RewrittenQuery: rewrite.Query,
	}, nil
}

// runCount executes the count query inside a transaction that is always
// rolled back, covering success, error, and cancellation alike.
func (e *Estimator) runCount(ctx context.Context, query string) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning dry-run transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback of a read never commits anything

	var count int64
	if err := tx.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("running count query: %w", err)
	}
	if count < 0 {
		return 0, fmt.Errorf("count query returned negative row count %d", count)
	}
	return count, nil
}
