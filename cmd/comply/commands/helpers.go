package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opencomply/opencomply/pkg/config"
	"github.com/opencomply/opencomply/pkg/engine"
	"github.com/opencomply/opencomply/pkg/policy"
	"github.com/opencomply/opencomply/pkg/stores"
	"github.com/opencomply/opencomply/pkg/telemetry"
)

// openStore opens the database at the global --db path. The caller owns the
// returned store and must Close it.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// buildService assembles the reconciliation service with the policy gate,
// audit trail and event bus wired in. The policyDir is optional.
func buildService(store *stores.SQLiteStore, logger zerolog.Logger, policyDir string) (*engine.Service, *policy.Engine, *telemetry.EventPublisher, error) {
	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if policyDir != "" {
		if err := policies.LoadDirectory(context.Background(), policyDir); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load policies from %s: %w", policyDir, err)
		}
	}

	events := telemetry.NewEventPublisher()
	service := engine.NewService(store, store, config.NewParser(), config.NewExporter(), logger, engine.ServiceOptions{
		Gate:        policies,
		Audit:       store,
		Invalidator: events,
	})
	return service, policies, events, nil
}

// readConfigFile loads one config file from disk and infers its format from
// the extension.
func readConfigFile(path string) (string, engine.Format, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(raw), engine.FormatForPath(path), nil
}

// printPlan renders a plan to stdout, honoring --json.
func printPlan(plan *engine.Plan) {
	if jsonOutput {
		printJSON(plan)
		return
	}

	for _, w := range plan.Warnings {
		log.Warn().Msg(w)
	}
	for _, d := range plan.ToCreate {
		fmt.Printf("  + %s %q\n", d.Type, d.NaturalKey)
	}
	for _, u := range plan.ToUpdate {
		fmt.Printf("  ~ %s %q (%d field(s))\n", u.Type, u.NaturalKey, len(u.Changes))
	}
	for _, d := range plan.ToDelete {
		fmt.Printf("  - %s %q\n", d.Type, d.NaturalKey)
	}
	fmt.Printf("\nPlan: %d to create, %d to update, %d to delete, %d unchanged\n",
		plan.Summary.ToCreate, plan.Summary.ToUpdate, plan.Summary.ToDelete, plan.Summary.NoChange)
}

// printResult renders an apply result to stdout, honoring --json.
func printResult(result *engine.ApplyResult) {
	if jsonOutput {
		printJSON(result)
		return
	}

	fmt.Printf("Apply complete: %d created, %d updated, %d deleted\n",
		result.Created, result.Updated, result.Deleted)
	for _, e := range result.Errors {
		fmt.Printf("  ! %s %s %q: %s\n", e.Operation, e.Type, e.NaturalKey, e.Reason)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to render JSON output")
		return
	}
	fmt.Println(string(out))
}
