package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/stores"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the opencomply database",
		Long: `Initialize the opencomply database and run schema migrations.

Creates the parent directory of the --db path if it does not exist.`,
		Example: `  # Initialize with the default database path
  comply init

  # Initialize at a custom path
  comply init --db /var/lib/opencomply/opencomply.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("db", dbPath).Msg("Initializing database")

			ctx := cmd.Context()

			if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("Database initialized at %s\n", dbPath)
			return nil
		},
	}

	return cmd
}
