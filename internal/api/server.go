package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/knx-gateway/internal/gateway"
	"github.com/nerrad567/knx-gateway/internal/gwconfig"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  gwconfig.HTTPConfig
	Logger  *logging.Logger
	Gateway *gateway.Client
	Version string
}

// Server is the gateway's control HTTP server.
//
// It manages the HTTP listener, routes, middleware, and event-stream hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       gwconfig.HTTPConfig
	logger    *logging.Logger
	gw        *gateway.Client
	version   string
	startTime time.Time
	server    *http.Server
	hub       *eventHub
	cancel    context.CancelFunc
	jwtSecret []byte
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		gw:        deps.Gateway,
		version:   deps.Version,
		startTime: time.Now(),
		jwtSecret: []byte(deps.Config.BearerToken),
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It wires the event hub to the gateway's event stream and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = newEventHub(s.logger)
	go s.hub.run(srvCtx, s.gw.Events())

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("control API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down control API server: %w", err)
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
