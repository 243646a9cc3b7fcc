package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/opencomply/opencomply/pkg/engine"
	"github.com/opencomply/opencomply/pkg/policy"
	"github.com/opencomply/opencomply/pkg/stores"
	"github.com/opencomply/opencomply/pkg/telemetry"
)

// Store is the persistence surface the API server needs: config files,
// resource stores, the audit trail and a health probe. Satisfied by
// stores.SQLiteStore.
type Store interface {
	engine.FileStore
	engine.ResourceStoreProvider

	HealthCheck(ctx context.Context) error
	ListAuditEntries(ctx context.Context, workspace string, limit, offset int) ([]*stores.AuditEntry, error)
}

// Config configures the HTTP server.
type Config struct {
	// ListenAddress is the address to bind (e.g. ":8080").
	ListenAddress string

	// MetricsPath is where Prometheus metrics are served.
	MetricsPath string

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		MetricsPath:   "/metrics",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  60 * time.Second,
	}
}

// ServerOptions carries the server's collaborators.
type ServerOptions struct {
	// Service is the reconciliation service.
	Service *engine.Service

	// Store is the persistence backend.
	Store Store

	// Policies is the policy engine; nil disables the policy endpoints.
	Policies *policy.Engine

	// Events is the event bus; when set, cache invalidation events drop
	// cached resource lists and apply events are published.
	Events *telemetry.EventPublisher

	// MetricsHandler serves the metrics endpoint; nil serves 404.
	MetricsHandler http.Handler

	// Logger is the root logger.
	Logger zerolog.Logger
}

// Server exposes the reconciliation pipeline over REST.
type Server struct {
	config   Config
	router   *mux.Router
	service  *engine.Service
	store    Store
	policies *policy.Engine
	events   *telemetry.EventPublisher
	cache    *resourceCache
	logger   zerolog.Logger
	httpSrv  *http.Server
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg Config, opts ServerOptions) *Server {
	s := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		service:  opts.Service,
		store:    opts.Store,
		policies: opts.Policies,
		events:   opts.Events,
		cache:    newResourceCache(opts.Store),
		logger:   opts.Logger.With().Str("component", "api").Logger(),
	}

	if s.events != nil {
		s.events.Subscribe(func(e telemetry.Event) {
			s.cache.Drop(e.Workspace, engine.ResourceType(e.ResourceType))
		}, telemetry.FilterByType(telemetry.EventTypeCacheInvalidated))
	}

	s.setupRoutes(opts.MetricsHandler)
	return s
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(metricsHandler http.Handler) {
	s.router.Use(requestID)
	s.router.Use(requestLogger(s.logger))

	s.router.HandleFunc("/healthz", s.Healthz).Methods("GET")
	if metricsHandler == nil {
		metricsHandler = http.NotFoundHandler()
	}
	s.router.Handle(s.config.MetricsPath, metricsHandler).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Config file routes
	api.HandleFunc("/workspaces/{workspace}/files", s.ListFiles).Methods("GET")
	api.HandleFunc("/workspaces/{workspace}/files/{path:.+}", s.GetFile).Methods("GET")
	api.HandleFunc("/workspaces/{workspace}/files/{path:.+}", s.PutFile).Methods("PUT")

	// Reconciliation routes
	api.HandleFunc("/workspaces/{workspace}/preview", s.Preview).Methods("POST")
	api.HandleFunc("/workspaces/{workspace}/apply", s.Apply).Methods("POST")
	api.HandleFunc("/workspaces/{workspace}/refresh", s.Refresh).Methods("POST")

	// Read-side routes
	api.HandleFunc("/workspaces/{workspace}/resources/{type}", s.ListResources).Methods("GET")
	api.HandleFunc("/workspaces/{workspace}/audit", s.ListAudit).Methods("GET")

	// Policy routes
	api.HandleFunc("/policies", s.ListPolicies).Methods("GET")
	api.HandleFunc("/policies/{name}", s.GetPolicy).Methods("GET")
	api.HandleFunc("/policies/{name}/enable", s.EnablePolicy).Methods("POST")
	api.HandleFunc("/policies/{name}/disable", s.DisablePolicy).Methods("POST")
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Str("address", s.config.ListenAddress).Msg("starting API server")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
