package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/config"
	"github.com/opencomply/opencomply/pkg/engine"
)

func newExportCommand() *cobra.Command {
	var (
		outDir    string
		formatStr string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export live state as config files",
		Long: `Snapshot live state and write one config file per resource type.

The output round-trips: planning an exported file against the same state
yields an empty plan. Database ids and timestamps are never exported, so
files stay stable across environments.`,
		Example: `  # Export the default workspace as declarative blocks
  comply export --out ./configs

  # Export as YAML
  comply export --out ./configs --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			format := engine.Format(formatStr)
			if err := format.Validate(); err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory %s: %w", outDir, err)
			}

			snapshotter := engine.NewSnapshotter(store)
			exporter := config.NewExporter()

			for _, t := range engine.AllResourceTypes() {
				descs, err := snapshotter.Snapshot(ctx, workspace, t)
				if err != nil {
					return err
				}
				content, err := exporter.Export(t, format, descs)
				if err != nil {
					return fmt.Errorf("failed to export %s state: %w", t, err)
				}

				path := filepath.Join(outDir, t.Plural()+"."+format.Extension())
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				log.Info().Str("path", path).Int("resources", len(descs)).Msg("exported")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	cmd.Flags().StringVar(&formatStr, "format", string(engine.FormatHCL), "output format (hcl, yaml, json)")

	return cmd
}
