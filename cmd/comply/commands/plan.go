package commands

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Preview the changes a config file would make",
		Long: `Parse a config file, snapshot live state and compute the plan that would
converge the database onto the declared state.

This is a pure read path: nothing is mutated.`,
		Example: `  # Preview against the default workspace
  comply plan controls.hcl

  # Preview against another workspace, as JSON
  comply plan controls.hcl -w staging --json`,
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

			service, _, _, err := buildService(store, log.Logger, "")
			if err != nil {
				return err
			}

			plan, err := service.Preview(ctx, workspace, filepath.Base(path), content, format)
			if err != nil {
				return err
			}

			if len(plan.Errors) > 0 {
				for _, e := range plan.Errors {
					fmt.Printf("%s: %s\n", path, e)
				}
				return fmt.Errorf("config is invalid, no plan computed")
			}

			printPlan(plan)
			return nil
		},
	}

	return cmd
}
