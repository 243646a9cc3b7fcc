package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate config files without touching the database",
		Long: `Parse and validate one or more config files.

Syntax errors, duplicate natural keys and schema violations are reported
per file. Nothing is planned or applied.`,
		Example: `  # Validate a single file
  comply validate controls.hcl

  # Validate a whole tree
  comply validate configs/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := config.NewParser()
			failed := 0

			for _, path := range args {
				content, format, err := readConfigFile(path)
				if err != nil {
					return err
				}

				result := parser.Parse(path, content, format, path)
				for _, w := range result.Warnings {
					fmt.Printf("%s: warning: %s\n", path, w)
				}
				for _, issue := range result.ValidationIssues {
					fmt.Printf("%s: %s\n", path, issue.String())
					failed++
				}
				if !result.OK() {
					for _, e := range result.Errors {
						fmt.Printf("%s: %s\n", path, e.String())
					}
					failed++
					continue
				}
				fmt.Printf("%s: ok (%d resource(s))\n", path, len(result.Descriptors))
			}

			if failed > 0 {
				return fmt.Errorf("%d file(s) failed validation", failed)
			}
			return nil
		},
	}

	return cmd
}
