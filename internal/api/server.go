package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/dashboard"
	"github.com/nerrad567/relayhub/internal/history"
	"github.com/nerrad567/relayhub/internal/infrastructure/config"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/session"
	"github.com/nerrad567/relayhub/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Liveness   config.LivenessConfig
	Logger     *logging.Logger
	Store      *state.Store
	Registry   *conn.Registry
	Sessions   *session.Handler
	Dashboards *dashboard.Hub
	Router     *command.Router
	History    history.Repository // optional; history routes return 404 when nil
	Metrics    *metrics.Metrics   // optional
	Version    string
	Now        func() time.Time // defaults to time.Now
}

// Server is the HTTP and WebSocket server of the relay hub.
//
// It is created with New and started with Start. All methods are safe for
// concurrent use.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	liveness   config.LivenessConfig
	logger     *logging.Logger
	store      *state.Store
	registry   *conn.Registry
	sessions   *session.Handler
	dashboards *dashboard.Hub
	router     *command.Router
	history    history.Repository
	metrics    *metrics.Metrics
	version    string
	now        func() time.Time

	handler  http.Handler
	upgrader *websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// Logger, Store, Registry, Sessions, Dashboards and Router are required. History and
// Metrics are optional.
//
// Parameters:
//   - deps: Collaborators and configuration for the server
//
// Returns:
//   - *Server: Configured server, not yet listening; Handler can be used
//     without starting it
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session handler is required")
	}
	if deps.Dashboards == nil {
		return nil, fmt.Errorf("dashboard hub is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("command router is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		liveness:   deps.Liveness,
		logger:     deps.Logger,
		store:      deps.Store,
		registry:   deps.Registry,
		sessions:   deps.Sessions,
		dashboards: deps.Dashboards,
		router:     deps.Router,
		history:    deps.History,
		metrics:    deps.Metrics,
		version:    deps.Version,
		now:        deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.upgrader = s.newUpgrader()
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in a background goroutine.
//
// It performs the following:
//  1. Listens on api.host:api.port (port 0 picks a free port, see Addr)
//  2. Serves plain HTTP, or TLS when api.tls is enabled
//  3. Uses ctx as the base context of every request
//
// Start returns once the address is bound, so a port-in-use error is
// reported here rather than logged later.
//
// Parameters:
//   - ctx: Parent context; cancelling it cancels in-flight request contexts
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.server = srv
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting requests, closes every WebSocket connection and
// waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	shutdownErr := srv.Shutdown(ctx)

	// Hijacked connections are not tracked by http.Server.
	for _, e := range s.registry.Entries() {
		//nolint:errcheck // Best-effort close during shutdown
		e.Channel.Close()
	}
	s.dashboards.CloseAll()

	if shutdownErr != nil {
		return fmt.Errorf("shutting down API server: %w", shutdownErr)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
