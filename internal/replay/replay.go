// Package replay re-derives the classification and dry-run estimate of a
// past run from its audit record and reports where today's results differ.
//
// Replay is strictly read-only: it never invokes the execution collaborator,
// never writes audit records, and never creates snapshots. Divergences are
// findings, not failures.
package replay

import (
	"context"
	"fmt"

	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/classify"
	"github.com/interact-space/database-safe-layer/internal/dryrun"
	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// Divergence is one observed difference between the recorded run and the
// replayed derivation.
type Divergence struct {
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// Trace is the outcome of replaying one run.
type Trace struct {
	RunID       string              `json:"run_id"`
	Record      *audit.Record       `json:"record"`
	ParseFailed bool                `json:"parse_failed"`
	Assessment  classify.Assessment `json:"assessment"`
	DryRun      *dryrun.Result      `json:"dry_run,omitempty"`
	Divergences []Divergence        `json:"divergences,omitempty"`
}

// Diverged reports whether any field changed since the original run.
func (t *Trace) Diverged() bool { return len(t.Divergences) > 0 }

// Engine replays audited runs against the current parser, registry, and
// database state.
type Engine struct {
	store        *audit.Store
	parser       sqlast.Parser
	classifier   *classify.Classifier
	estimator    *dryrun.Estimator
	rowThreshold int64
}

// New builds a replay engine over the audit store.
func New(store *audit.Store, parser sqlast.Parser, classifier *classify.Classifier, estimator *dryrun.Estimator, rowThreshold int64) *Engine {
	return &Engine{
		store:        store,
		parser:       parser,
		classifier:   classifier,
		estimator:    estimator,
		rowThreshold: rowThreshold,
	}
}

// Replay re-runs classification and estimation for the recorded SQL and
// diffs the outcome against the record. The error return covers lookup and
// infrastructure failures only; a run that replays differently still
// returns a nil error.
func (e *Engine) Replay(ctx context.Context, runID string) (*Trace, error) {
	rec, err := e.store.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	trace := &Trace{RunID: runID, Record: rec}

	stmt, parseErr := e.parser.Parse(rec.SQL)
	if parseErr != nil {
		// The statement no longer parses (grammar or parser change since
		// the original run). Fail closed the same way the gate would.
		trace.ParseFailed = true
		trace.Assessment = classify.FailClosed(parseErr)
		e.diffAssessment(trace)
		return trace, nil
	}

	if stmt.Kind != sqlast.KindDDL && stmt.Kind != sqlast.KindUnknown {
		dr, estErr := e.estimator.Estimate(ctx, stmt)
		if estErr != nil {
			trace.Divergences = append(trace.Divergences, Divergence{
				Field:    "dry_run",
				Recorded: recordedDryRun(rec),
				Replayed: fmt.Sprintf("estimate failed: %v", estErr),
			})
		} else {
			trace.DryRun = dr
		}
	}

	assessment := e.classifier.Classify(stmt)
	if stmt.Kind.Mutating() && trace.DryRun != nil {
		assessment = classify.EscalateForRows(assessment, trace.DryRun.EstimatedRows, e.rowThreshold)
	}
	trace.Assessment = assessment

	e.diffAssessment(trace)
	e.diffDryRun(trace)
	return trace, nil
}

func (e *Engine) diffAssessment(t *Trace) {
	if level := t.Assessment.Level.String(); level != t.Record.RiskLevel {
		t.Divergences = append(t.Divergences, Divergence{
			Field:    "risk_level",
			Recorded: t.Record.RiskLevel,
			Replayed: level,
		})
	}
	if recorded, replayed := joinReasons(t.Record.RiskReasons), joinReasons(t.Assessment.Reasons()); recorded != replayed {
		t.Divergences = append(t.Divergences, Divergence{
			Field:    "risk_reasons",
			Recorded: recorded,
			Replayed: replayed,
		})
	}
}

func (e *Engine) diffDryRun(t *Trace) {
	recorded := t.Record.DryRun
	replayed := t.DryRun
	if recorded == nil && replayed == nil {
		return
	}

	switch {
	case recorded == nil:
		t.Divergences = append(t.Divergences, Divergence{
			Field:    "dry_run",
			Recorded: "none",
			Replayed: fmt.Sprintf("%d rows (exact=%t)", replayed.EstimatedRows, replayed.Exact),
		})
	case replayed == nil:
		// The estimate-failed divergence was already recorded in Replay.
	default:
		if recorded.EstimatedRows != replayed.EstimatedRows {
			t.Divergences = append(t.Divergences, Divergence{
				Field:    "estimated_rows",
				Recorded: fmt.Sprintf("%d", recorded.EstimatedRows),
				Replayed: fmt.Sprintf("%d", replayed.EstimatedRows),
			})
		}
		if recorded.Exact != replayed.Exact {
			t.Divergences = append(t.Divergences, Divergence{
				Field:    "exact",
				Recorded: fmt.Sprintf("%t", recorded.Exact),
				Replayed: fmt.Sprintf("%t", replayed.Exact),
			})
		}
	}
}

func recordedDryRun(rec *audit.Record) string {
	if rec.DryRun == nil {
		return "none"
	}
	return fmt.Sprintf("%d rows (exact=%t)", rec.DryRun.EstimatedRows, rec.DryRun.Exact)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
