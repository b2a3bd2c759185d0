package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/output"
	"github.com/interact-space/database-safe-layer/internal/snapshot"
)

func init() {
	rootCmd.AddCommand(snapshotsCmd)
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List pre-execution snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := a.state.ListSnapshotRefs(cmd.Context())
		if err != nil {
			return err
		}
		return writeSnapshotList(output.New(output.Format(GetOutput())), refs)
	},
}

func writeSnapshotList(out *output.Writer, refs []*snapshot.Ref) error {
	if out.Format() != output.FormatText {
		payload := make([]map[string]any, 0, len(refs))
		for _, ref := range refs {
			payload = append(payload, map[string]any{
				"id":         ref.ID,
				"created_at": ref.CreatedAt.UTC().Format(time.RFC3339),
				"backend":    ref.Backend,
				"tables":     ref.Tables,
				"row_counts": ref.RowCounts,
			})
		}
		return out.Write(payload)
	}

	if len(refs) == 0 {
		out.Textf("no snapshots")
		return nil
	}
	for _, ref := range refs {
		out.Textf("%s  %s  %s  [%s]",
			ref.ID,
			ref.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			ref.Backend,
			strings.Join(ref.Tables, ", "))
	}
	return nil
}
