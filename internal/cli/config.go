package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/config"
	"github.com/interact-space/database-safe-layer/internal/output"
)

var flagConfigUser bool

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configSetCmd.Flags().BoolVar(&flagConfigUser, "user", false, "write to the user config instead of the project config")

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		if out.Format() == output.FormatText {
			out.Textf("protected_tables:                %v", cfg.General.ProtectedTables)
			out.Textf("row_count_threshold_medium_high: %d", cfg.General.RowCountThresholdMediumHigh)
			out.Textf("approval_timeout_secs:           %d", cfg.General.ApprovalTimeoutSecs)
			out.Textf("execution_timeout_secs:          %d", cfg.General.ExecutionTimeoutSecs)
			out.Textf("auto_approve_low:                %t", cfg.General.AutoApproveLow)
			out.Textf("database.target_path:            %s", cfg.Database.TargetPath)
			out.Textf("database.state_path:             %s", cfg.Database.StatePath)
			out.Textf("snapshot.backend:                %s", cfg.Snapshot.Backend)
			out.Textf("snapshot.dir:                    %s", cfg.Snapshot.Dir)
			return nil
		}
		return out.Write(cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		val, err := config.GetValue(cfg, args[0])
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		if out.Format() == output.FormatText {
			out.Textf("%v", val)
			return nil
		}
		return out.Write(map[string]any{args[0]: val})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		val, err := config.ParseValue(key, raw)
		if err != nil {
			return err
		}

		var path string
		if flagConfigUser {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("locating home directory: %w", err)
			}
			path = filepath.Join(home, ".dbsafe", "config.toml")
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path = filepath.Join(cwd, ".dbsafe", "config.toml")
		}

		if err := config.WriteValue(path, key, val); err != nil {
			return err
		}
		output.New(output.Format(GetOutput())).Success(fmt.Sprintf("set %s in %s", key, path))
		return nil
	},
}
