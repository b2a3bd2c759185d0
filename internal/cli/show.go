package cli

import (
	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/output"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full audit record for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.audit.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := output.New(output.Format(GetOutput()))
		if out.Format() != output.FormatText {
			return out.Write(rec)
		}

		out.Textf("run:       %s", rec.RunID)
		out.Textf("time:      %s", rec.Timestamp.Format("2006-01-02 15:04:05 MST"))
		out.Textf("sql:       %s", rec.SQL)
		out.Textf("risk:      %s", rec.RiskLevel)
		for _, reason := range rec.RiskReasons {
			out.Textf("           - %s", reason)
		}
		if rec.DryRun != nil {
			out.Textf("estimate:  %d rows (exact=%t)", rec.DryRun.EstimatedRows, rec.DryRun.Exact)
			if rec.DryRun.RewrittenQuery != "" {
				out.Textf("probe:     %s", rec.DryRun.RewrittenQuery)
			}
		}
		out.Textf("approval:  %s", rec.ApprovalDecision)
		if rec.SnapshotRef != "" {
			out.Textf("snapshot:  %s", rec.SnapshotRef)
		}
		out.Textf("execution: %s", rec.Execution.Status)
		if rec.Execution.AffectedRows != nil {
			out.Textf("affected:  %d", *rec.Execution.AffectedRows)
		}
		if rec.Execution.Error != "" {
			out.Textf("error:     %s", rec.Execution.Error)
		}
		out.Textf("status:    %s", rec.FinalStatus)
		if rec.AbortReason != "" {
			out.Textf("reason:    %s", rec.AbortReason)
		}
		return nil
	},
}
