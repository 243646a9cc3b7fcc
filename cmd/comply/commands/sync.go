package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/engine"
	"github.com/opencomply/opencomply/pkg/telemetry"
)

func newSyncCommand() *cobra.Command {
	var (
		policyDir string
		noInitial bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync <dir>",
		Short: "Watch a directory and apply config files on change",
		Long: `Watch a directory of config files and apply each file whenever it is
created or modified.

Files with unrecognized extensions are ignored. An apply failure for one
file is logged and does not stop the watcher. On startup every existing
config file is applied once unless --no-initial is set.`,
		Example: `  # Continuously reconcile ./configs into the default workspace
  comply sync ./configs

  # Watch without the initial full pass
  comply sync ./configs --no-initial`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := args[0]

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			service, _, events, err := buildService(store, log.Logger, policyDir)
			if err != nil {
				return err
			}

			// Surface engine events for the synced workspace; other
			// workspaces are not this watcher's concern.
			events.Subscribe(func(e telemetry.Event) {
				log.Debug().
					Str("event", e.Type).
					Str("workspace", e.Workspace).
					Msg(e.Message)
			}, telemetry.FilterByWorkspace(workspace))

			if !noInitial {
				if err := syncAll(ctx, service, dir); err != nil {
					return err
				}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			log.Info().Str("dir", dir).Str("workspace", workspace).Msg("watching for config changes")

			// Editors fire several events per save; coalesce them per path.
			pending := make(map[string]*time.Timer)
			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
						continue
					}
					if !isConfigFile(event.Name) {
						continue
					}

					path := event.Name
					if timer, ok := pending[path]; ok {
						timer.Stop()
					}
					pending[path] = time.AfterFunc(debounce, func() {
						syncOne(ctx, service, path)
					})

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("watcher error")
				}
			}
		},
	}

	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional Rego policies")
	cmd.Flags().BoolVar(&noInitial, "no-initial", false, "skip the initial full pass over existing files")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "delay before applying a changed file")

	return cmd
}

// syncAll applies every config file currently present in the directory.
func syncAll(ctx context.Context, service *engine.Service, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isConfigFile(entry.Name()) {
			continue
		}
		syncOne(ctx, service, filepath.Join(dir, entry.Name()))
	}
	return nil
}

// syncOne applies one file, logging the outcome. Failures never propagate;
// the watcher keeps running.
func syncOne(ctx context.Context, service *engine.Service, path string) {
	content, format, err := readConfigFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to read config file")
		return
	}

	result, err := service.Apply(ctx, engine.ApplyRequest{
		Workspace:     workspace,
		Path:          filepath.Base(path),
		Content:       content,
		Format:        format,
		CommitMessage: "sync from " + path,
		Actor:         "sync",
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("apply failed")
		return
	}

	log.Info().
		Str("path", path).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("errors", len(result.Errors)).
		Msg("synced")
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl", ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
