package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/output"
	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

var (
	flagRollbackSnapshot string
	flagRollbackYes      bool
)

func init() {
	rollbackCmd.Flags().StringVar(&flagRollbackSnapshot, "snapshot", "", "snapshot id to restore")
	rollbackCmd.Flags().BoolVarP(&flagRollbackYes, "yes", "y", false, "restore without prompting")

	rootCmd.AddCommand(rollbackCmd)
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the database from a snapshot",
	Long: `Restore the target database from a pre-execution snapshot.

Without --snapshot this lists available snapshots, newest first. With
--snapshot it restores the chosen one after confirmation. A rollback is
itself an audited run; the original statement is never re-executed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		out := output.New(output.Format(GetOutput()))
		ctx := cmd.Context()

		if flagRollbackSnapshot == "" {
			refs, err := a.snapshots.List(ctx)
			if err != nil {
				return err
			}
			return writeSnapshotList(out, refs)
		}

		ref, err := a.snapshots.Get(ctx, flagRollbackSnapshot)
		if err != nil {
			return err
		}

		if !flagRollbackYes && !confirmRestore(ref.ID, ref.Tables) {
			return fmt.Errorf("rollback cancelled")
		}

		restoreStmt := fmt.Sprintf("RESTORE SNAPSHOT '%s'", ref.ID)
		rec := &audit.Record{
			RunID:            fmt.Sprintf("RUN_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.New().String()[:8]),
			Timestamp:        time.Now().UTC(),
			SQL:              restoreStmt,
			Fingerprint:      sqlast.Fingerprint(restoreStmt),
			RiskLevel:        "HIGH",
			RiskReasons:      []string{fmt.Sprintf("manual rollback from snapshot %s", ref.ID)},
			ApprovalDecision: audit.DecisionApproved,
			SnapshotRef:      ref.ID,
		}

		_, restoreErr := a.snapshots.Restore(ctx, ref.ID)
		if restoreErr != nil {
			rec.Execution = audit.Execution{Status: audit.ExecFailed, Error: restoreErr.Error()}
			rec.FinalStatus = "ABORTED"
			rec.AbortReason = "RESTORE_FAILED"
		} else {
			rec.Execution = audit.Execution{Status: audit.ExecSuccess}
			rec.FinalStatus = "DONE"
		}
		if auditErr := a.audit.Append(ctx, rec); auditErr != nil {
			if restoreErr != nil {
				return fmt.Errorf("restore failed (%v); audit write also failed: %w", restoreErr, auditErr)
			}
			return auditErr
		}
		if restoreErr != nil {
			return restoreErr
		}

		out.Success(fmt.Sprintf("restored snapshot %s (tables: %s)", ref.ID, strings.Join(ref.Tables, ", ")))
		if out.Format() != output.FormatText {
			return out.Write(map[string]any{
				"run_id":       rec.RunID,
				"snapshot_ref": ref.ID,
				"tables":       ref.Tables,
				"final_status": rec.FinalStatus,
			})
		}
		return nil
	},
}

func confirmRestore(id string, tables []string) bool {
	fmt.Fprintf(os.Stderr, "restore snapshot %s over tables [%s]? (yes/no): ",
		id, strings.Join(tables, ", "))
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "yes" || answer == "y"
}
