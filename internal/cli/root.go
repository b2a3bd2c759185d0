// Package cli implements the Cobra command-line interface for dbsafe.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/interact-space/database-safe-layer/internal/config"
	"github.com/interact-space/database-safe-layer/internal/output"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig   string
	flagOutput   string
	flagJSON     bool
	flagVerbose  bool
	flagStateDB  string
	flagDatabase string
	flagProject  string
)

var rootCmd = &cobra.Command{
	Use:   "dbsafe",
	Short: "Deterministic safety gate for SQL statements",
	Long: `dbsafe sits between operators and a database and refuses to run
dangerous SQL without a dry run, a risk assessment, and an approval.

Every statement is parsed, rewritten to a row-count probe, classified,
and only then executed. Risk levels:
  CRITICAL  - blocked outright (DDL, unparseable SQL) unless overridden
  HIGH      - approval plus a pre-execution snapshot
  MEDIUM    - approval required
  LOW       - auto-approved, no snapshot

Every run, including blocked and aborted ones, leaves one audit record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
		if flagProject == "" {
			return nil
		}
		if err := os.Chdir(flagProject); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagProject, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := flagConfig
		if configPath == "" {
			home, _ := os.UserHomeDir()
			configPath = filepath.Join(home, ".dbsafe", "config.toml")
		}
		projectPath, _ := os.Getwd()

		payload := map[string]any{
			"version":      version,
			"commit":       commit,
			"build_date":   date,
			"go_version":   runtime.Version(),
			"config_path":  configPath,
			"project_path": projectPath,
		}

		switch GetOutput() {
		case "json", "yaml":
			return output.New(output.Format(GetOutput())).Write(payload)
		case "text":
			fmt.Printf("dbsafe %s\n", version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", date)
			fmt.Printf("  go:      %s\n", runtime.Version())
			fmt.Printf("  config:  %s\n", configPath)
			fmt.Printf("  project: %s\n", projectPath)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s", GetOutput())
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > DBSAFE_OUTPUT_FORMAT env > default.
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("DBSAFE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}
	return flagOutput
}

// loadConfig resolves layered configuration plus any command-line overrides.
func loadConfig() (*config.Config, error) {
	overrides := map[string]any{}
	if flagStateDB != "" {
		overrides["database.state_path"] = flagStateDB
	}
	if flagDatabase != "" {
		overrides["database.target_path"] = flagDatabase
	}
	return config.Load(config.LoadOptions{
		ConfigFile:    flagConfig,
		FlagOverrides: overrides,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: DBSAFE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagStateDB, "db", "", "state database path (audit log, snapshot refs)")
	rootCmd.PersistentFlags().StringVarP(&flagDatabase, "database", "d", "", "target database path")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	rootCmd.AddCommand(versionCmd)
}
