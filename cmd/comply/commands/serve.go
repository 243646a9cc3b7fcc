package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opencomply/opencomply/pkg/api"
	"github.com/opencomply/opencomply/pkg/config"
	"github.com/opencomply/opencomply/pkg/engine"
	"github.com/opencomply/opencomply/pkg/policy"
	"github.com/opencomply/opencomply/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		listenAddr string
		policyDir  string
		production bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the opencomply API server",
		Long: `Run the REST API server exposing the reconciliation pipeline.

The server serves the versioned file tree, preview and apply, cached
resource projections, the audit trail and the policy endpoints, plus
/healthz and Prometheus metrics.`,
		Example: `  # Serve on the default address
  comply serve

  # Serve with production telemetry and custom policies
  comply serve --listen :9000 --policy-dir ./policies --production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			telCfg := telemetry.DefaultConfig()
			if production {
				telCfg = telemetry.ProductionConfig()
			}
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			logger := tel.Logger

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			policies, err := policy.NewEngine(logger)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			if policyDir != "" {
				if err := policies.LoadDirectory(ctx, policyDir); err != nil {
					return fmt.Errorf("failed to load policies from %s: %w", policyDir, err)
				}
			}

			service := engine.NewService(store, store, config.NewParser(), config.NewExporter(), logger, engine.ServiceOptions{
				Gate:        policies,
				Audit:       store,
				Invalidator: tel.Events,
				Metrics:     tel.Metrics,
				Tracer:      tel.Tracer,
			})

			srvCfg := api.DefaultConfig()
			srvCfg.ListenAddress = listenAddr
			srvCfg.MetricsPath = telCfg.Metrics.Path
			server := api.NewServer(srvCfg, api.ServerOptions{
				Service:        service,
				Store:          store,
				Policies:       policies,
				Events:         tel.Events,
				MetricsHandler: tel.Metrics.Handler(),
				Logger:         logger,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info().Msg("shutting down API server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional Rego policies")
	cmd.Flags().BoolVar(&production, "production", false, "use production telemetry defaults")

	return cmd
}
