package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Metrics provides Prometheus metrics for the reconciliation engine. It
// implements engine.MetricsRecorder; a disabled instance degrades to no-ops.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansComputed *prometheus.CounterVec
	planChanges   *prometheus.HistogramVec
	planDuration  *prometheus.HistogramVec

	// Apply metrics
	appliesTotal    *prometheus.CounterVec
	applyOperations *prometheus.CounterVec
	applyDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_computed_total",
				Help:      "Total number of reconciliation plans computed",
			},
			[]string{"workspace"},
		),
		planChanges: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_changes",
				Help:      "Number of changes per computed plan",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"workspace"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of plan computation in seconds",
				Buckets:   buckets,
			},
			[]string{"workspace"},
		),

		appliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_total",
				Help:      "Total number of apply invocations",
			},
			[]string{"workspace", "status"},
		),
		applyOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_operations_total",
				Help:      "Total number of per-resource apply operations",
			},
			[]string{"operation", "result"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"workspace"},
		),
	}

	collectors := []prometheus.Collector{
		m.plansComputed,
		m.planChanges,
		m.planDuration,
		m.appliesTotal,
		m.applyOperations,
		m.applyDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObservePlan implements engine.MetricsRecorder.
func (m *Metrics) ObservePlan(workspace string, summary engine.PlanSummary, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.plansComputed.WithLabelValues(workspace).Inc()
	changes := summary.ToCreate + summary.ToUpdate + summary.ToDelete
	m.planChanges.WithLabelValues(workspace).Observe(float64(changes))
	m.planDuration.WithLabelValues(workspace).Observe(duration.Seconds())
}

// ObserveApply implements engine.MetricsRecorder.
func (m *Metrics) ObserveApply(workspace string, result *engine.ApplyResult, duration time.Duration) {
	if m.registry == nil {
		return
	}

	status := "ok"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	m.appliesTotal.WithLabelValues(workspace, status).Inc()
	m.applyDuration.WithLabelValues(workspace).Observe(duration.Seconds())

	m.applyOperations.WithLabelValues(string(engine.OperationCreate), "ok").Add(float64(result.Created))
	m.applyOperations.WithLabelValues(string(engine.OperationUpdate), "ok").Add(float64(result.Updated))
	m.applyOperations.WithLabelValues(string(engine.OperationDelete), "ok").Add(float64(result.Deleted))
	for _, e := range result.Errors {
		m.applyOperations.WithLabelValues(string(e.Operation), "error").Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint. Disabled
// metrics serve 404.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
