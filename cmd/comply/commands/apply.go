package commands

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		actor     string
		message   string
		policyDir string
	)

	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a config file to live state",
		Long: `Parse a config file, compute the plan and converge the database onto the
declared state.

The plan is checked against the Rego policy gate before any mutation. The
file content is persisted to the versioned file store and the run is
recorded in the audit trail. Per-resource failures are reported but do not
abort the remaining operations.`,
		Example: `  # Apply to the default workspace
  comply apply controls.hcl

  # Apply with a commit message and custom policies
  comply apply controls.hcl -m "add AC-7" --policy-dir ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			content, format, err := readConfigFile(path)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			service, _, _, err := buildService(store, log.Logger, policyDir)
			if err != nil {
				return err
			}

			if actor == "" {
				actor = currentUser()
			}

			result, err := service.Apply(ctx, engine.ApplyRequest{
				Workspace:     workspace,
				Path:          filepath.Base(path),
				Content:       content,
				Format:        format,
				CommitMessage: message,
				Actor:         actor,
			})
			if err != nil {
				return err
			}

			printResult(result)
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d operation(s) failed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the audit trail (default: current user)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message for the file store")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional Rego policies")

	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
