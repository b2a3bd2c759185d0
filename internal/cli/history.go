package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/output"
)

var (
	flagHistoryLimit  int
	flagHistoryLevel  string
	flagHistoryStatus string
	flagHistorySince  string
)

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "maximum number of runs to show")
	historyCmd.Flags().StringVar(&flagHistoryLevel, "risk", "", "filter by risk level (LOW, MEDIUM, HIGH, CRITICAL)")
	historyCmd.Flags().StringVar(&flagHistoryStatus, "status", "", "filter by final status (DONE, BLOCKED, ABORTED)")
	historyCmd.Flags().StringVar(&flagHistorySince, "since", "", "only runs at or after this RFC3339 timestamp")

	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show audited runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		filter := audit.Filter{
			RiskLevel:   flagHistoryLevel,
			FinalStatus: flagHistoryStatus,
			Limit:       flagHistoryLimit,
		}
		if flagHistorySince != "" {
			since, err := time.Parse(time.RFC3339, flagHistorySince)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			filter.From = since
		}

		records, err := a.audit.Query(cmd.Context(), filter)
		if err != nil {
			return err
		}

		out := output.New(output.Format(GetOutput()))
		if out.Format() != output.FormatText {
			return out.Write(records)
		}

		if len(records) == 0 {
			out.Textf("no runs")
			return nil
		}
		for _, rec := range records {
			rows := "-"
			if rec.DryRun != nil {
				rows = fmt.Sprintf("%d", rec.DryRun.EstimatedRows)
			}
			out.Textf("%s  %-8s  %-8s  rows=%-6s  %s",
				rec.RunID, rec.RiskLevel, rec.FinalStatus, rows, truncateSQL(rec.SQL, 60))
		}
		return nil
	},
}

func truncateSQL(sql string, max int) string {
	if len(sql) <= max {
		return sql
	}
	return sql[:max-3] + "..."
}
