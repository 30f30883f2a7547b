package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/epitome-sim/reverie-core/internal/audit"
	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/logging"
	"github.com/epitome-sim/reverie-core/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Launcher starts simulation runs.
type Launcher interface {
	Launch(ctx context.Context, req experiment.LaunchRequest) (*experiment.Task, error)
	Running() []*experiment.Task
}

// Lifecycle answers status queries and stops runs.
type Lifecycle interface {
	Status(ctx context.Context, id string) (experiment.State, error)
	Stop(ctx context.Context, id string) error
}

// ExperimentStore reads and writes experiment directories.
type ExperimentStore interface {
	List(ctx context.Context, username string) (storage.Listing, error)
	Create(ctx context.Context, req storage.CreateRequest) error
	Detail(ctx context.Context, id string) (storage.Detail, error)
	Delete(ctx context.Context, id string) error
	ParentCheck(ctx context.Context, id string) (storage.ParentInfo, error)
	Replay(ctx context.Context, id string, step int) (storage.ReplayContext, error)
}

// RunHistory lists recorded runs.
type RunHistory interface {
	ListRuns(ctx context.Context, target string, limit int) ([]experiment.RunSummary, error)
}

// HealthChecker is a dependency probed by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Metrics   config.MetricsConfig
	Logger    *logging.Logger
	Launcher  Launcher
	Lifecycle Lifecycle
	Store     ExperimentStore
	History   RunHistory       // optional
	AuditRepo audit.Repository // optional
	Gatherer  prometheus.Gatherer
	// Health names dependencies reported by /api/v1/health.
	Health      map[string]HealthChecker
	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for reverie-core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	launcher    Launcher
	lifecycle   Lifecycle
	store       ExperimentStore
	history     RunHistory
	auditRepo   audit.Repository
	audit       *audit.Recorder
	gatherer    prometheus.Gatherer
	health      map[string]HealthChecker
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if deps.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("experiment store is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		launcher:   deps.Launcher,
		lifecycle:  deps.Lifecycle,
		store:      deps.Store,
		history:    deps.History,
		auditRepo:  deps.AuditRepo,
		gatherer:   deps.Gatherer,
		health:     deps.Health,
		version:    deps.Version,
		startTime:  time.Now(),
	}
	if deps.AuditRepo != nil {
		s.audit = audit.NewRecorder(deps.AuditRepo, deps.Logger)
	}

	// The launcher publishes to the hub, so main usually creates it first
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
