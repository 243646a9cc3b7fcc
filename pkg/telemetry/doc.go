// Package telemetry provides observability instrumentation for opencomply.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and an in-process event bus into a
// single system for monitoring reconciliation runs.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// Components derive their own sub-loggers from the root logger:
//
//	logger := tel.Logger.With().Str("component", "applier").Logger()
//	logger.Info().Str("workspace", ws).Msg("apply started")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing covers the plan and apply phases of a reconciliation run:
//
//	ctx, span := tel.Tracer.StartApplySpan(ctx, workspace, runID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), stdout (development), none (testing).
//
// # Metrics
//
// Prometheus metrics track plan and apply behavior:
//
//	tel.Metrics.ObservePlan(workspace, plan.Summary, duration)
//	tel.Metrics.ObserveApply(workspace, result, duration)
//
// Metrics are exposed via the handler returned by Metrics.Handler, mounted
// by the API server at the configured path (default /metrics).
//
// # Events
//
// The event bus fans engine events out to in-process subscribers and doubles
// as the engine's cache invalidator:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    cache.Drop(event.Workspace, event.ResourceType)
//	}, telemetry.FilterByType(telemetry.EventTypeCacheInvalidated))
//
// Event filters: FilterByLevel, FilterByType, FilterByWorkspace.
package telemetry
