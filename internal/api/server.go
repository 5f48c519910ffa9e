package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/warden/internal/activity"
	"github.com/nerrad567/warden/internal/history"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/database"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/registry"
	"github.com/nerrad567/warden/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// AppManager is the supervisor surface the API depends on. It is the
// full lifecycle operation set; *supervisor.Supervisor satisfies it.
type AppManager interface {
	Status(id string) (supervisor.Status, error)
	Statuses(ctx context.Context) ([]supervisor.Status, error)
	RunningStatuses(ctx context.Context) ([]supervisor.Status, error)
	Start(ctx context.Context, id string) (*supervisor.StartResult, error)
	Stop(ctx context.Context, id string) (*supervisor.StopResult, error)
	Restart(ctx context.Context, id string) (*supervisor.RestartResult, error)
	HealthCheck(ctx context.Context, id string) (*supervisor.HealthResult, error)
	Logs(id, stream string, lines int) (*supervisor.LogsResult, error)
	URL(id string) (string, error)
}

// EventRecorder accepts journal events emitted by API handlers. The
// composition root implements it to append to the journal, broadcast on
// the WebSocket hub, and mirror to MQTT and telemetry when those are
// enabled. Recording is fire-and-forget: a failed append must not fail
// the operation that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, event *history.Event)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Registry    *registry.Registry
	Supervisor  AppManager
	Tracker     *activity.Tracker // optional: nil when the idle scheduler is disabled
	Journal     history.Repository
	Recorder    EventRecorder
	DB          *database.DB // optional: connection pool stats for the metrics endpoint
	ExternalHub *Hub         // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP control API for warden.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	registry    *registry.Registry
	supervisor  AppManager
	tracker     *activity.Tracker
	journal     history.Repository
	recorder    EventRecorder
	db          *database.DB
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
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, supervisor, journal)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("app registry is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}
	if deps.Journal == nil {
		return nil, fmt.Errorf("event journal is required")
	}
	// Tracker is optional: with the idle scheduler disabled the
	// scheduler endpoints report it as such. Recorder is optional:
	// without one, lifecycle events are appended to the journal only.

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		supervisor: deps.Supervisor,
		tracker:    deps.Tracker,
		journal:    deps.Journal,
		recorder:   deps.Recorder,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	// Use externally-provided hub if available (needed when the
	// composition root also broadcasts events through it).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Build router
	router := s.buildRouter()

	// Create HTTP server
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
//
// Returns:
//   - error: If shutdown encounters an error
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
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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

// record funnels a lifecycle event through the configured recorder, or
// straight into the journal when no recorder was injected. Failures are
// logged and swallowed: the journal is an audit trail, not a gate.
func (s *Server) record(ctx context.Context, event *history.Event) {
	if s.recorder != nil {
		s.recorder.Record(ctx, event)
		return
	}
	if err := s.journal.Append(ctx, event); err != nil {
		s.logger.Error("failed to append journal event",
			"app_id", event.AppID,
			"action", event.Action,
			"error", err,
		)
	}
}
