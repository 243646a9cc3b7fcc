package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath     string
	workspace  string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "comply",
		Short: "opencomply - declarative compliance configuration engine",
		Long: `opencomply reconciles declarative compliance configuration against live
platform state.

Controls, frameworks, policies, risks and vendors are declared in versioned
config files (declarative blocks, YAML or JSON). The engine diffs the
declared state against the database and converges it through explicit
create, update and delete operations, gated by Rego policies and recorded
in an audit trail.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/opencomply.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "default", "workspace name")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
