package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mocklet/mocklet/pkg/config"
	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
	"github.com/mocklet/mocklet/pkg/websocket"
)

// DefaultPort is the port the server binds when none is configured.
const DefaultPort = 8080

// Sentinel errors for server lifecycle misuse.
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
)

// Server binds one TCP port and serves the whole mock document on it:
// plain requests hit the HTTP route table, upgrade requests are handed to
// the WebSocket engine. All lifecycle milestones are published on the bus.
type Server struct {
	doc  *config.Document
	bus  *event.Bus
	log  *slog.Logger
	port int

	handler  *Handler
	wsEngine *websocket.Engine

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	started    bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPort sets the TCP port to bind. Port 0 binds an ephemeral port; use
// Port after Start to learn which.
func WithPort(port int) ServerOption {
	return func(s *Server) {
		s.port = port
	}
}

// WithLogger sets the operational logger for the server and both engines.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a server for the given mock document, publishing
// lifecycle events on bus.
func NewServer(doc *config.Document, bus *event.Bus, opts ...ServerOption) *Server {
	s := &Server{
		doc:  doc,
		bus:  bus,
		log:  logging.Nop(),
		port: DefaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsEngine = websocket.NewEngine(doc.Endpoints, bus, websocket.WithLogger(s.log))
	s.handler = NewHandler(NewRouteTable(doc.Routes), bus,
		WithHandlerLogger(s.log),
		WithWebSocketEngine(s.wsEngine),
	)
	return s
}

// Start binds the listener, announces every configured route and endpoint,
// and begins serving in a background goroutine. It returns once the server
// is accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	s.bus.Publish(event.ServerStarting, event.Attributes{"port": s.port})
	s.log.Info("starting server", "port", s.port,
		"routes", len(s.doc.Routes), "endpoints", len(s.doc.Endpoints))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.port, err)
	}
	s.listener = listener

	for _, route := range s.doc.Routes {
		s.log.Info("route registered", "method", route.Method, "url", route.URL)
		s.bus.Publish(event.RouteRegistered, event.Attributes{
			"method":   route.Method,
			"url":      route.URL,
			"delay_ms": route.DelayMs,
		})
	}
	for _, endpoint := range s.doc.Endpoints {
		s.log.Info("endpoint registered", "path", endpoint.Path)
		s.bus.Publish(event.RouteRegistered, event.Attributes{
			"method":   "WEBSOCKET",
			"url":      endpoint.Path,
			"delay_ms": 0,
		})
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server terminated", "error", err)
		}
	}()

	s.started = true
	s.bus.Publish(event.ServerStarted, event.Attributes{"port": s.Port()})
	s.log.Info("server started", "addr", listener.Addr().String())
	return nil
}

// Shutdown closes all WebSocket connections, stops accepting requests, and
// waits for in-flight requests to drain, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	s.bus.Publish(event.ServerShuttingDown, event.Attributes{"port": s.Port()})
	s.log.Info("shutting down server")

	s.wsEngine.CloseAll(ctx)
	err := s.httpServer.Shutdown(ctx)

	s.started = false
	s.bus.Publish(event.ServerStopped, event.Attributes{"port": s.Port()})
	s.log.Info("server stopped")
	return err
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the actual bound port, or the configured port before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.port
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.port
}
