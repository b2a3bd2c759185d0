package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/approval"
	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/db"
	"github.com/interact-space/database-safe-layer/internal/gate"
	"github.com/interact-space/database-safe-layer/internal/output"
)

var (
	flagRunOverrideCritical bool
	flagRunYes              bool
	flagRunTimeout          int
)

func init() {
	runCmd.Flags().BoolVar(&flagRunOverrideCritical, "override-critical", false, "run a CRITICAL statement through the HIGH-risk path instead of blocking it")
	runCmd.Flags().BoolVarP(&flagRunYes, "yes", "y", false, "approve without prompting (for scripted use)")
	runCmd.Flags().IntVar(&flagRunTimeout, "timeout", 0, "approval timeout in seconds (overrides config)")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <sql>",
	Short: "Run a SQL statement through the safety gate",
	Long: `Run a single SQL statement through the full pipeline: parse, dry-run
count, risk classification, approval, snapshot, execution, audit.

Exit status is 0 when the statement executed (or auto-approved LOW),
non-zero when it was blocked, aborted, or failed.

Examples:
  dbsafe run "DELETE FROM visits WHERE visit_date < '2010-01-01'"
  dbsafe run "UPDATE users SET active = 0 WHERE last_login < '2019-01-01'" --yes
  dbsafe run "DROP TABLE scratch" --override-critical`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlText := args[0]

		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		out := output.New(output.Format(GetOutput()))

		timeout := a.cfg.ApprovalTimeout()
		if flagRunTimeout > 0 {
			timeout = time.Duration(flagRunTimeout) * time.Second
		}

		var approver approval.Approver
		if flagRunYes {
			approver = approval.Static{Decision: approval.DecisionYes}
		} else {
			approver = approval.NewTerminal()
		}

		pipeline := gate.New(gate.Options{
			Parser:                a.parser,
			Classifier:            a.classify,
			Estimator:             a.estimator,
			Snapshots:             a.snapshots,
			Approver:              approver,
			Executor:              db.NewSQLExecutor(a.target),
			Audit:                 a.audit,
			RowThreshold:          a.cfg.General.RowCountThresholdMediumHigh,
			ApprovalTimeout:       timeout,
			RequireApprovalForLow: !a.cfg.General.AutoApproveLow,
			Logger:                log.Default(),
		})

		ctx := cmd.Context()
		if execTimeout := a.cfg.ExecutionTimeout(); execTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, execTimeout+timeout)
			defer cancel()
		}

		res, runErr := pipeline.Run(ctx, sqlText, gate.RunOptions{
			OverrideCritical: flagRunOverrideCritical,
		})
		if res != nil {
			writeRunResult(out, res)
		}
		if runErr != nil {
			if errors.Is(runErr, gate.ErrBlocked) || errors.Is(runErr, gate.ErrAborted) {
				return fmt.Errorf("%s: %w", strings.ToLower(string(res.State)), runErr)
			}
			return runErr
		}
		return nil
	},
}

func writeRunResult(out *output.Writer, res *gate.RunResult) {
	if out.Format() != output.FormatText {
		_ = out.Write(runPayload(res))
		return
	}

	out.Textf("run:    %s", res.RunID)
	out.Textf("risk:   %s", res.Assessment.Level)
	for _, reason := range res.Assessment.Reasons() {
		out.Textf("        - %s", reason)
	}
	if res.DryRun != nil {
		exactness := "exact"
		if !res.DryRun.Exact {
			exactness = "approximate"
		}
		out.Textf("rows:   %d (%s)", res.DryRun.EstimatedRows, exactness)
	}
	if res.Snapshot != nil {
		out.Textf("backup: %s", res.Snapshot.ID)
	}
	if res.Record.Execution.Status == audit.ExecSuccess {
		out.Textf("result: executed, %d row(s) affected", res.AffectedRows)
	}
	out.Textf("status: %s", res.State)
	if res.AbortReason != "" {
		out.Textf("reason: %s", res.AbortReason)
	}
}

func runPayload(res *gate.RunResult) map[string]any {
	payload := map[string]any{
		"run_id":       res.RunID,
		"risk_level":   res.Assessment.Level.String(),
		"risk_reasons": res.Assessment.Reasons(),
		"final_status": string(res.State),
	}
	if res.DryRun != nil {
		payload["dry_run"] = map[string]any{
			"estimated_rows": res.DryRun.EstimatedRows,
			"exact":          res.DryRun.Exact,
		}
	}
	if res.Snapshot != nil {
		payload["snapshot_ref"] = res.Snapshot.ID
	}
	if res.Record.Execution.Status == audit.ExecSuccess {
		payload["affected_rows"] = res.AffectedRows
	}
	if res.AbortReason != "" {
		payload["abort_reason"] = res.AbortReason
	}
	return payload
}
