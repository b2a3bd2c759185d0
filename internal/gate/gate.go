// Package gate implements the approval pipeline: an explicit finite-state
// machine that sequences classification, dry-run estimation, approval,
// snapshotting, execution, and the single terminal audit write.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/interact-space/database-safe-layer/internal/approval"
	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/classify"
	"github.com/interact-space/database-safe-layer/internal/dryrun"
	"github.com/interact-space/database-safe-layer/internal/snapshot"
	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// State is one node of the pipeline state machine.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateParsed          State = "PARSED"
	StateDryRunDone      State = "DRYRUN_DONE"
	StateRiskAssessed    State = "RISK_ASSESSED"
	StateAutoApproved    State = "AUTO_APPROVED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateBlocked         State = "BLOCKED"
	StateSnapshotted     State = "SNAPSHOTTED"
	StateSkippedSnapshot State = "SKIPPED_SNAPSHOT"
	StateExecuted        State = "EXECUTED"
	StateAudited         State = "AUDITED"
	StateDone            State = "DONE"
	StateAborted         State = "ABORTED"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateBlocked
}

// Abort reasons recorded in the audit record.
const (
	ReasonDenied         = "DENIED"
	ReasonTimeout        = "TIMEOUT"
	ReasonDryRunFailed   = "DRYRUN_FAILED"
	ReasonSnapshotFailed = "SNAPSHOT_FAILED"
	ReasonApproverError  = "APPROVER_ERROR"
	// ReasonNoTables marks a run that required a snapshot but referenced no
	// resolvable tables, so nothing could be captured.
	ReasonNoTables = "NO_TABLES"
)

// Pipeline errors. Policy outcomes (blocked, aborted) are errors too so the
// CLI exits non-zero on them; callers distinguish with errors.Is.
var (
	ErrBlocked = errors.New("statement blocked")
	ErrAborted = errors.New("run aborted")
)

// Executor is the live database execution collaborator. It is invoked at
// most once per run.
type Executor interface {
	Execute(ctx context.Context, sql string) (affectedRows int64, err error)
}

// Options configures a Pipeline.
type Options struct {
	Parser          sqlast.Parser
	Classifier      *classify.Classifier
	Estimator       *dryrun.Estimator
	Snapshots       *snapshot.Manager
	Approver        approval.Approver
	Executor        Executor
	Audit           *audit.Store
	RowThreshold    int64
	ApprovalTimeout time.Duration
	// RequireApprovalForLow routes LOW-risk statements through the approver
	// too. The snapshot is still skipped for them.
	RequireApprovalForLow bool
	Logger                *log.Logger
}

// Pipeline is the approval gate. One Pipeline serves many concurrent runs;
// table-scoped locks serialize only the snapshot+execute window of runs
// sharing tables.
type Pipeline struct {
	parser          sqlast.Parser
	classifier      *classify.Classifier
	estimator       *dryrun.Estimator
	snapshots       *snapshot.Manager
	approver        approval.Approver
	executor        Executor
	auditLog        *audit.Store
	locks           *tableLocks
	rowThreshold    int64
	approvalTimeout time.Duration
	requireLowOK    bool
	logger          *log.Logger
	now             func() time.Time
}

// New builds a pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		parser:          opts.Parser,
		classifier:      opts.Classifier,
		estimator:       opts.Estimator,
		snapshots:       opts.Snapshots,
		approver:        opts.Approver,
		executor:        opts.Executor,
		auditLog:        opts.Audit,
		locks:           newTableLocks(),
		rowThreshold:    opts.RowThreshold,
		approvalTimeout: opts.ApprovalTimeout,
		requireLowOK:    opts.RequireApprovalForLow,
		logger:          logger,
		now:             time.Now,
	}
}

// RunOptions are per-submission inputs.
type RunOptions struct {
	// OverrideCritical demotes a CRITICAL assessment to the HIGH path
	// (approval plus mandatory snapshot) instead of blocking it. The
	// override itself is audited.
	OverrideCritical bool
}

// RunResult is the caller's view of a finished run. The audit record is the
// durable form; the result mirrors it with typed fields.
type RunResult struct {
	RunID        string
	State        State
	Assessment   classify.Assessment
	DryRun       *dryrun.Result
	Snapshot     *snapshot.Ref
	AffectedRows int64
	AbortReason  string
	Record       *audit.Record
}

// Run drives one statement through the state machine to a terminal state.
// Every terminal path writes exactly one audit record. Policy outcomes
// surface as ErrBlocked/ErrAborted; execution failures surface as the
// execution error; a nil error means the statement executed (or was a
// successful LOW auto path).
func (p *Pipeline) Run(ctx context.Context, sqlText string, opts RunOptions) (*RunResult, error) {
	runID := fmt.Sprintf("RUN_%s_%s", p.now().UTC().Format("20060102_150405"), uuid.New().String()[:8])
	logger := p.logger.With("run_id", runID)

	res := &RunResult{RunID: runID, State: StateReceived}
	rec := &audit.Record{
		RunID:            runID,
		Timestamp:        p.now().UTC(),
		SQL:              sqlText,
		ApprovalDecision: audit.DecisionNone,
		Execution:        audit.Execution{Status: audit.ExecNotRun},
		OverrideCritical: opts.OverrideCritical,
	}
	res.Record = rec

	// RECEIVED -> PARSED. Parse failure fails closed: CRITICAL, BLOCKED.
	stmt, err := p.parser.Parse(sqlText)
	if err != nil {
		logger.Warn("parse failed, failing closed", "err", err)
		rec.Fingerprint = sqlast.Fingerprint(sqlText)
		res.Assessment = classify.FailClosed(err)
		p.applyAssessment(rec, res.Assessment)
		if auditErr := p.finalize(ctx, rec, res, StateBlocked); auditErr != nil {
			return res, auditErr
		}
		return res, fmt.Errorf("%w: %w", ErrBlocked, err)
	}
	rec.Fingerprint = stmt.Fingerprint
	res.State = StateParsed
	logger.Debug("parsed", "kind", stmt.Kind, "tables", stmt.Tables)

	// PARSED -> DRYRUN_DONE. DDL and unknown kinds have no count form and
	// skip estimation; they classify CRITICAL regardless.
	if stmt.Kind != sqlast.KindDDL && stmt.Kind != sqlast.KindUnknown {
		dr, err := p.estimator.Estimate(ctx, stmt)
		if err != nil {
			logger.Warn("dry run failed, aborting before approval", "err", err)
			res.Assessment = p.classifier.Classify(stmt)
			p.applyAssessment(rec, res.Assessment)
			res.AbortReason = ReasonDryRunFailed
			rec.AbortReason = ReasonDryRunFailed
			if auditErr := p.finalize(ctx, rec, res, StateAborted); auditErr != nil {
				return res, auditErr
			}
			return res, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		res.DryRun = dr
		rec.DryRun = &audit.DryRun{
			EstimatedRows:  dr.EstimatedRows,
			Exact:          dr.Exact,
			RewrittenQuery: dr.RewrittenQuery,
		}
		res.State = StateDryRunDone
		logger.Debug("dry run done", "estimated_rows", dr.EstimatedRows, "exact", dr.Exact)
	}

	// DRYRUN_DONE -> RISK_ASSESSED.
	assessment := p.classifier.Classify(stmt)
	if stmt.Kind.Mutating() && res.DryRun != nil {
		assessment = classify.EscalateForRows(assessment, res.DryRun.EstimatedRows, p.rowThreshold)
	}
	res.Assessment = assessment
	p.applyAssessment(rec, assessment)
	res.State = StateRiskAssessed
	logger.Info("risk assessed", "level", assessment.Level, "rules", len(assessment.Matches))

	switch {
	case assessment.Level == classify.LevelCritical && !opts.OverrideCritical:
		// CRITICAL without an explicit override never executes.
		logger.Warn("critical statement blocked")
		if auditErr := p.finalize(ctx, rec, res, StateBlocked); auditErr != nil {
			return res, auditErr
		}
		return res, fmt.Errorf("%w: risk level CRITICAL", ErrBlocked)

	case assessment.Level == classify.LevelLow:
		// LOW skips the snapshot; by default it also skips approval.
		if p.requireLowOK {
			res.State = StatePendingApproval
			if err := p.decide(ctx, logger, rec, res, stmt); err != nil {
				return res, err
			}
		} else {
			rec.ApprovalDecision = audit.DecisionAuto
			logger.Debug("auto approved")
		}
		res.State = StateSkippedSnapshot
		return p.execute(ctx, logger, rec, res, stmt)

	default:
		// MEDIUM/HIGH, or CRITICAL with override, wait on the approver.
		return p.awaitApprovalAndExecute(ctx, logger, rec, res, stmt)
	}
}

// decide blocks on the approver under the approval deadline and records the
// outcome. A nil return means the run was approved; any other outcome has
// already aborted and finalized the run, and the abort error is returned.
func (p *Pipeline) decide(ctx context.Context, logger *log.Logger, rec *audit.Record, res *RunResult, stmt *sqlast.Statement) error {
	logger.Info("awaiting approval", "timeout", p.approvalTimeout)

	approvalCtx := ctx
	if p.approvalTimeout > 0 {
		var cancel context.CancelFunc
		approvalCtx, cancel = context.WithTimeout(ctx, p.approvalTimeout)
		defer cancel()
	}

	decision, err := p.approver.RequestApproval(approvalCtx, &approval.Request{
		RunID:      res.RunID,
		SQL:        stmt.Raw,
		Assessment: res.Assessment,
		DryRun:     res.DryRun,
	})
	if err != nil {
		// An approver surfacing the deadline as an error is still a timeout;
		// the record must say so, not APPROVER_ERROR.
		if errors.Is(err, context.DeadlineExceeded) {
			rec.ApprovalDecision = audit.DecisionTimedOut
			_, abortErr := p.abort(ctx, logger, rec, res, ReasonTimeout, errors.New("approval timed out"))
			return abortErr
		}
		_, abortErr := p.abort(ctx, logger, rec, res, ReasonApproverError, fmt.Errorf("requesting approval: %w", err))
		return abortErr
	}

	switch decision {
	case approval.DecisionNo:
		rec.ApprovalDecision = audit.DecisionDenied
		_, abortErr := p.abort(ctx, logger, rec, res, ReasonDenied, errors.New("approval denied"))
		return abortErr
	case approval.DecisionTimeout:
		rec.ApprovalDecision = audit.DecisionTimedOut
		_, abortErr := p.abort(ctx, logger, rec, res, ReasonTimeout, errors.New("approval timed out"))
		return abortErr
	case approval.DecisionYes:
		rec.ApprovalDecision = audit.DecisionApproved
		logger.Info("approved")
		return nil
	default:
		_, abortErr := p.abort(ctx, logger, rec, res, ReasonApproverError, fmt.Errorf("unknown approval decision %q", decision))
		return abortErr
	}
}

// awaitApprovalAndExecute suspends on the external decision, then runs the
// mandatory snapshot+execute window under the table locks.
func (p *Pipeline) awaitApprovalAndExecute(ctx context.Context, logger *log.Logger, rec *audit.Record, res *RunResult, stmt *sqlast.Statement) (*RunResult, error) {
	// The snapshot is mandatory on this path, so a statement with no
	// resolvable tables cannot proceed. Checked before prompting anyone.
	if len(stmt.Tables) == 0 {
		return p.abort(ctx, logger, rec, res, ReasonNoTables,
			errors.New("statement references no resolvable tables, snapshot required"))
	}

	res.State = StatePendingApproval
	if err := p.decide(ctx, logger, rec, res, stmt); err != nil {
		return res, err
	}

	// Snapshot creation happens-before execution, and both stay inside the
	// table-scoped exclusion window.
	unlock := p.locks.acquire(stmt.Tables)
	defer unlock()

	ref, err := p.snapshots.Create(ctx, stmt.Tables)
	if err != nil {
		return p.abort(ctx, logger, rec, res, ReasonSnapshotFailed, err)
	}
	res.Snapshot = ref
	rec.SnapshotRef = ref.ID
	res.State = StateSnapshotted
	logger.Info("snapshot created", "snapshot_id", ref.ID, "tables", ref.Tables)

	return p.executeLocked(ctx, logger, rec, res, stmt)
}

// execute wraps executeLocked with the table locks for paths that skipped
// the snapshot. Even a LOW run's execution must not interleave with another
// run's snapshot or execution on a shared table.
func (p *Pipeline) execute(ctx context.Context, logger *log.Logger, rec *audit.Record, res *RunResult, stmt *sqlast.Statement) (*RunResult, error) {
	unlock := p.locks.acquire(stmt.Tables)
	defer unlock()
	return p.executeLocked(ctx, logger, rec, res, stmt)
}

// executeLocked invokes the execution collaborator exactly once and drives
// the run to DONE regardless of the outcome. Execution failure is recorded,
// surfaced, and never retried.
func (p *Pipeline) executeLocked(ctx context.Context, logger *log.Logger, rec *audit.Record, res *RunResult, stmt *sqlast.Statement) (*RunResult, error) {
	affected, execErr := p.executor.Execute(ctx, stmt.Raw)
	res.State = StateExecuted
	if execErr != nil {
		logger.Error("execution failed", "err", execErr)
		rec.Execution = audit.Execution{Status: audit.ExecFailed, Error: execErr.Error()}
	} else {
		logger.Info("executed", "affected_rows", affected)
		res.AffectedRows = affected
		rec.Execution = audit.Execution{Status: audit.ExecSuccess, AffectedRows: &affected}
	}

	if auditErr := p.finalize(ctx, rec, res, StateDone); auditErr != nil {
		return res, auditErr
	}
	return res, execErr
}

// abort finalizes an ABORTED run with its reason. The snapshot, if one was
// already created, is retained for manual rollback.
func (p *Pipeline) abort(ctx context.Context, logger *log.Logger, rec *audit.Record, res *RunResult, reason string, cause error) (*RunResult, error) {
	logger.Warn("run aborted", "reason", reason, "err", cause)
	res.AbortReason = reason
	rec.AbortReason = reason
	if auditErr := p.finalize(ctx, rec, res, StateAborted); auditErr != nil {
		return res, auditErr
	}
	return res, fmt.Errorf("%w: %w", ErrAborted, cause)
}

// finalize performs the single terminal audit write. It is the one
// synchronization point every terminal transition funnels through.
func (p *Pipeline) finalize(ctx context.Context, rec *audit.Record, res *RunResult, final State) error {
	rec.FinalStatus = string(final)
	if err := p.auditLog.Append(ctx, rec); err != nil {
		return fmt.Errorf("writing audit record for %s: %w", rec.RunID, err)
	}
	res.State = final
	return nil
}

func (p *Pipeline) applyAssessment(rec *audit.Record, a classify.Assessment) {
	rec.RiskLevel = a.Level.String()
	rec.RiskReasons = a.Reasons()
}
