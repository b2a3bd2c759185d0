package cli

import (
	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/output"
	"github.com/interact-space/database-safe-layer/internal/replay"
)

func init() {
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Re-derive a past run's classification and estimate",
	Long: `Replay re-runs classification and the dry-run estimate for an audited
run against the current configuration and database state, then reports
where today's results differ from the record.

Replay never executes the statement. Divergences are expected when the
registry, threshold, or data have changed since the original run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		engine := replay.New(a.audit, a.parser, a.classify, a.estimator,
			a.cfg.General.RowCountThresholdMediumHigh)
		trace, err := engine.Replay(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := output.New(output.Format(GetOutput()))
		if out.Format() != output.FormatText {
			return out.Write(trace)
		}

		out.Textf("run:      %s", trace.RunID)
		out.Textf("recorded: %s (%s)", trace.Record.RiskLevel, trace.Record.FinalStatus)
		out.Textf("replayed: %s", trace.Assessment.Level)
		if trace.ParseFailed {
			out.Textf("          statement no longer parses")
		}
		if trace.DryRun != nil {
			out.Textf("rows:     %d (exact=%t)", trace.DryRun.EstimatedRows, trace.DryRun.Exact)
		}
		if !trace.Diverged() {
			out.Textf("no divergences")
			return nil
		}
		out.Textf("divergences:")
		for _, d := range trace.Divergences {
			out.Textf("  %-15s recorded=%q replayed=%q", d.Field, d.Recorded, d.Replayed)
		}
		return nil
	},
}
