package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/infrastructure/config"
	"github.com/nerrad567/stsync/internal/infrastructure/logging"
	"github.com/nerrad567/stsync/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Poller is the scheduler surface used by the API. *poller.Scheduler
// satisfies it.
type Poller interface {
	Reload(ctx context.Context) error
	InFlight() []poller.InFlightFetch
}

// Commander sends device commands. *command.Dispatcher satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, deviceID, capability, value string) error
	Toggle(ctx context.Context, deviceID string) (device.Control, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Poller   Poller
	Commands Commander

	// Hub must also be registered as a registry observer so that clients
	// receive notifications. If nil the server creates one that only
	// serves connections.
	Hub *Hub

	// History is optional; without it the history endpoint answers 404.
	History device.StateHistoryRepository

	// Metrics is optional; when set it is served at /metrics.
	Metrics http.Handler

	// Panel is optional; when set it serves every path outside /api/v1.
	Panel http.Handler

	// AccessLog, when set, receives one Combined Log Format line per request.
	AccessLog io.Writer

	Version string
}

// Server is the HTTP API server for stsync.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry *device.Registry
	poller   Poller
	commands Commander
	history  device.StateHistoryRepository
	metrics  http.Handler
	panel    http.Handler
	access   io.Writer
	version  string
	started  time.Time // for uptime

	hub    *Hub
	server *http.Server

	mu     sync.Mutex
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		poller:   deps.Poller,
		commands: deps.Commands,
		history:  deps.History,
		metrics:  deps.Metrics,
		panel:    deps.Panel,
		access:   deps.AccessLog,
		version:  deps.Version,
		started:  time.Now(),
		hub:      hub,
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens synchronously so that an address already in use is
// reported here rather than only logged. The hub runs until Close.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go s.hub.Run(hubCtx)

	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr.String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. WebSocket clients are
// disconnected.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Stops the hub, which closes every WebSocket connection
	if cancel != nil {
		cancel()
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
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
