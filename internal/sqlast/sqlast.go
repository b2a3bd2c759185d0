// Package sqlast abstracts SQL parsing behind a narrow capability interface.
//
// The rest of the pipeline only ever sees a Statement (classification facts)
// and a CountRewrite (dry-run material), so the underlying parser library can
// be swapped without touching classification or estimation logic.
package sqlast

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrParse wraps every parser failure. Callers treat it as fail-closed:
// malformed SQL is never assumed safe.
var ErrParse = errors.New("sql parse failed")

// Kind is the coarse statement category the classifier cares about.
type Kind string

const (
	KindSelect  Kind = "select"
	KindInsert  Kind = "insert"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindDDL     Kind = "ddl"
	KindUnknown Kind = "unknown"
)

// Mutating reports whether the statement kind writes table data.
// DDL is handled separately (it rewrites structure, not rows).
func (k Kind) Mutating() bool {
	return k == KindInsert || k == KindUpdate || k == KindDelete
}

// Statement is the parsed, immutable view of one SQL statement.
type Statement struct {
	// Raw is the original statement text as submitted.
	Raw string
	// Fingerprint is the normalized hash used for audit correlation.
	Fingerprint string
	// Kind is the coarse statement category.
	Kind Kind
	// Tables lists every table the statement references, deduplicated,
	// in first-reference order.
	Tables []string
	// HasPredicate is true when an UPDATE/DELETE carries a WHERE clause.
	HasPredicate bool
	// LiteralRows is the VALUES row count for a literal INSERT, 0 otherwise.
	LiteralRows int64
	// FromSubquery is true for INSERT ... SELECT.
	FromSubquery bool
}

// CountRewrite is the non-mutating equivalent of a statement, used by the
// dry-run estimator.
type CountRewrite struct {
	// Query is the rewritten count query. Empty when Literal is true.
	Query string
	// Literal is true when the row count was derived without touching the
	// database (INSERT with literal VALUES rows).
	Literal bool
	// LiteralCount is the row count for the literal case.
	LiteralCount int64
	// Exact is false when the estimate can drift under concurrent writes
	// (subquery-sourced INSERT).
	Exact bool
}

// Parser produces Statements and their dry-run rewrites.
type Parser interface {
	// Parse returns the parsed statement, or an error wrapping ErrParse.
	Parse(sql string) (*Statement, error)
	// RewriteToCount builds the read-only row-count equivalent of stmt.
	// Returns ErrNoRewrite for statements that have no count form (DDL).
	RewriteToCount(stmt *Statement) (*CountRewrite, error)
}

// ErrNoRewrite is returned when a statement has no count-query equivalent.
var ErrNoRewrite = errors.New("statement has no count rewrite")

// Fingerprint computes the case- and whitespace-insensitive hash of a
// statement's text. Two submissions of the same statement that differ only
// in casing, spacing, or a trailing semicolon share a fingerprint.
func Fingerprint(sql string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(sql), " "))
	normalized = strings.TrimRight(normalized, "; ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// QuoteIdentifier double-quotes a SQL identifier when it contains anything
// beyond lowercase alphanumerics and underscores.
func QuoteIdentifier(s string) string {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
	}
	return s
}

// parseError builds the canonical wrapped parse error.
func parseError(err error) error {
	return fmt.Errorf("%w: %v", ErrParse, err)
}
