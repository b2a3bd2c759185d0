// Package audit persists one immutable record per pipeline run.
//
// The store is append-only: there is no update or delete operation, and the
// underlying SQLite database runs with synchronous=FULL so a returned Append
// has survived a crash. Retention and compaction are external concerns.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout pads fractional seconds to nine digits so the stored TEXT
// values are fixed-width and lexicographic comparison matches time order.
// RFC3339Nano would trim trailing zeros and break range filters at
// whole-second boundaries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store errors.
var (
	// ErrNotFound is returned when a run id is unknown.
	ErrNotFound = errors.New("audit record not found")
	// ErrDuplicate is returned when a run id is appended twice; records are
	// written exactly once.
	ErrDuplicate = errors.New("audit record already exists")
)

// ApprovalDecision is how the run cleared (or failed to clear) approval.
type ApprovalDecision string

const (
	DecisionNone     ApprovalDecision = "NONE"
	DecisionAuto     ApprovalDecision = "AUTO"
	DecisionApproved ApprovalDecision = "APPROVED"
	DecisionDenied   ApprovalDecision = "DENIED"
	DecisionTimedOut ApprovalDecision = "TIMED_OUT"
)

// ExecStatus is the execution collaborator's outcome.
type ExecStatus string

const (
	ExecNotRun  ExecStatus = "NOT_RUN"
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailed  ExecStatus = "FAILED"
)

// DryRun is the persisted dry-run slice of a record.
type DryRun struct {
	EstimatedRows  int64  `json:"estimated_rows"`
	Exact          bool   `json:"exact"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
}

// Execution is the persisted execution outcome.
type Execution struct {
	Status       ExecStatus `json:"status"`
	AffectedRows *int64     `json:"affected_rows,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Record is the canonical persisted form: one JSON object per run.
type Record struct {
	RunID            string           `json:"run_id"`
	Timestamp        time.Time        `json:"timestamp"`
	SQL              string           `json:"sql"`
	Fingerprint      string           `json:"fingerprint"`
	RiskLevel        string           `json:"risk_level"`
	RiskReasons      []string         `json:"risk_reasons"`
	DryRun           *DryRun          `json:"dry_run,omitempty"`
	ApprovalDecision ApprovalDecision `json:"approval_decision"`
	SnapshotRef      string           `json:"snapshot_ref,omitempty"`
	Execution        Execution        `json:"execution"`
	FinalStatus      string           `json:"final_status"`
	AbortReason      string           `json:"abort_reason,omitempty"`
	OverrideCritical bool             `json:"override_critical,omitempty"`
}

// Store is the append-only run log over the state database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened, migrated state database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append durably persists the record before returning. Each run id is
// written exactly once; a second append of the same id fails.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (run_id, created_at, fingerprint, risk_level, final_status, record_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Timestamp.UTC().Format(timeLayout), rec.Fingerprint,
		rec.RiskLevel, rec.FinalStatus, string(payload))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.RunID)
		}
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Get retrieves one record by run id.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM audit_runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("reading audit record: %w", err)
	}
	return decodeRecord(payload)
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	From        time.Time
	To          time.Time
	RiskLevel   string
	FinalStatus string
	Limit       int
}

// Query returns matching records, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]*Record, error) {
	var conds []string
	var args []any

	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if f.RiskLevel != "" {
		conds = append(conds, "risk_level = ?")
		args = append(args, strings.ToUpper(f.RiskLevel))
	}
	if f.FinalStatus != "" {
		conds = append(conds, "final_status = ?")
		args = append(args, strings.ToUpper(f.FinalStatus))
	}

	query := "SELECT record_json FROM audit_runs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}

func decodeRecord(payload string) (*Record, error) {
	rec := &Record{}
	if err := json.Unmarshal([]byte(payload), rec); err != nil {
		return nil, fmt.Errorf("decoding audit record: %w", err)
	}
	return rec, nil
}

// isUniqueConstraintError matches modernc.org/sqlite's constraint errors,
// excluding foreign key failures which share the "constraint failed" text.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "foreign key") {
		return false
	}
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "constraint failed")
}
