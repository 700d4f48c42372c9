package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/dispatcher"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/config"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/logging"
	"github.com/LzzJustBeYou/rinLink/internal/queue"
	"github.com/LzzJustBeYou/rinLink/internal/room"
	"github.com/LzzJustBeYou/rinLink/internal/scene"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	States     *cache.StateCache
	Dispatcher *dispatcher.Dispatcher
	Queue      *queue.Queue
	Scenes     *scene.Registry
	Engine     *scene.Engine
	Rooms      room.Repository
	Resolver   *room.Resolver
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	states     *cache.StateCache
	dispatcher *dispatcher.Dispatcher
	queue      *queue.Queue
	scenes     *scene.Registry
	engine     *scene.Engine
	rooms      room.Repository
	resolver   *room.Resolver
	version    string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates an API server with the given dependencies. The server is
// not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("state cache is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		states:     deps.States,
		dispatcher: deps.Dispatcher,
		queue:      deps.Queue,
		scenes:     deps.Scenes,
		engine:     deps.Engine,
		rooms:      deps.Rooms,
		resolver:   deps.Resolver,
		version:    deps.Version,
	}, nil
}

// Start builds the router, starts the WebSocket hub and the relay
// goroutines, and launches the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.relayCacheChanges(srvCtx)
	s.relayQueueStatus(srvCtx)
	s.relaySceneEvents(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server. It waits up to 10
// seconds for in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

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

// HealthCheck verifies the API server is running.
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

// relayCacheChanges forwards state cache changes to WebSocket clients.
func (s *Server) relayCacheChanges(ctx context.Context) {
	sub := s.states.Subscribe(0)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-sub.C:
				if !ok {
					return
				}
				s.hub.Broadcast("device."+string(change.Kind), change)
			}
		}
	}()
}

// relayQueueStatus forwards queue depth snapshots to WebSocket clients.
func (s *Server) relayQueueStatus(ctx context.Context) {
	if s.queue == nil {
		return
	}
	sub := s.queue.Subscribe(0)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case status, ok := <-sub.C:
				if !ok {
					return
				}
				s.hub.Broadcast("queue.status", status)
			}
		}
	}()
}

// relaySceneEvents forwards scene execution events to WebSocket clients.
func (s *Server) relaySceneEvents(ctx context.Context) {
	if s.engine == nil {
		return
	}
	sub := s.engine.Subscribe(0)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				s.hub.Broadcast("scene."+string(ev.Kind), ev)
			}
		}
	}()
}
