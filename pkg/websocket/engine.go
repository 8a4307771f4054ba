// Package websocket implements the WebSocket mock server engine.
//
// Each configured endpoint path answers upgrade requests, replays the
// configured connect/message/close responses with their delays, and emits
// connection lifecycle events on the shared bus.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/mocklet/mocklet/pkg/config"
	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
)

// Engine serves configured WebSocket endpoints. One goroutine per
// connection reads inbound messages; responses are written on the same
// goroutine so a per-message delay never blocks other connections.
type Engine struct {
	endpoints map[string]*config.WSEndpoint
	bus       *event.Bus
	log       *slog.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates an Engine serving the given endpoints and publishing
// lifecycle events on bus. Later duplicates of a path are ignored; the
// first configured endpoint wins.
func NewEngine(endpoints []*config.WSEndpoint, bus *event.Bus, opts ...EngineOption) *Engine {
	e := &Engine{
		endpoints: make(map[string]*config.WSEndpoint, len(endpoints)),
		bus:       bus,
		log:       logging.Nop(),
		conns:     make(map[string]*Connection),
	}
	for _, ep := range endpoints {
		if _, exists := e.endpoints[ep.Path]; !exists {
			e.endpoints[ep.Path] = ep
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Endpoints returns the configured endpoints keyed by path.
func (e *Engine) Endpoints() map[string]*config.WSEndpoint {
	out := make(map[string]*config.WSEndpoint, len(e.endpoints))
	for path, ep := range e.endpoints {
		out[path] = ep
	}
	return out
}

// ConnectionCount returns the number of live connections.
func (e *Engine) ConnectionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// IsWebSocketRequest reports whether r is a WebSocket upgrade request.
func IsWebSocketRequest(r *http.Request) bool {
	if !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") {
		return false
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP upgrades the request and handles the connection lifecycle.
// Paths with no configured endpoint are rejected at accept time with close
// code 1003 and no lifecycle events.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	wsConn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // any origin; this is a mock server
	})
	if err != nil {
		e.log.Warn("websocket accept failed", "path", path, "error", err)
		return
	}

	endpoint, ok := e.endpoints[path]
	if !ok {
		e.log.Warn("no endpoint configured for path", "path", path)
		_ = wsConn.Close(ws.StatusUnsupportedData, "no endpoint configured")
		return
	}

	conn := newConnection(wsConn, path)
	e.addConnection(conn)
	go e.handleConnection(conn, endpoint)
}

// handleConnection runs the connect/message/close response cycle for one
// connection.
func (e *Engine) handleConnection(conn *Connection, endpoint *config.WSEndpoint) {
	e.log.Info("client connected", "path", conn.Path(), "connection_id", conn.ID())
	e.bus.Publish(event.ConnectionOpened, event.Attributes{
		"path":          conn.Path(),
		"connection_id": conn.ID(),
	})

	if endpoint.OnConnect != nil {
		e.sendResponse(conn, endpoint.OnConnect)
	}

	for {
		data, err := conn.Read()
		if err != nil {
			break
		}
		e.log.Debug("received message", "path", conn.Path(), "size", len(data))

		if endpoint.OnMessage != nil {
			e.sendResponse(conn, endpoint.OnMessage)
			e.bus.Publish(event.ConnectionMessageHandled, event.Attributes{
				"path":          conn.Path(),
				"connection_id": conn.ID(),
				"delay_ms":      endpoint.OnMessage.DelayMs,
			})
		}
	}

	// Attempted exactly once per connection; the write usually fails when
	// the client initiated the close, which is logged and ignored.
	if endpoint.OnClose != nil {
		e.sendResponse(conn, endpoint.OnClose)
	}

	_ = conn.Close(ws.StatusNormalClosure, "")
	e.log.Info("client disconnected", "path", conn.Path(), "connection_id", conn.ID())
	e.bus.Publish(event.ConnectionClosed, event.Attributes{
		"path":          conn.Path(),
		"connection_id": conn.ID(),
	})
	e.removeConnection(conn)
}

// sendResponse applies the configured delay and sends the message, if any.
// Peer-disconnect errors are logged, never propagated.
func (e *Engine) sendResponse(conn *Connection, resp *config.WSResponse) {
	if resp.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(resp.DelayMs) * time.Millisecond)
		select {
		case <-timer.C:
		case <-conn.Context().Done():
			timer.Stop()
			return
		}
	}

	if len(resp.Message) == 0 {
		return
	}
	if err := conn.SendJSON(resp.Message); err != nil {
		e.log.Warn("could not send response, connection closed",
			"path", conn.Path(), "error", err)
	}
}

// CloseAll closes every live connection; used at server shutdown. Each
// connection's handler goroutine then runs its close cycle.
func (e *Engine) CloseAll(ctx context.Context) {
	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(ws.StatusGoingAway, "server shutting down")
	}

	// Wait for handler goroutines to emit their close events.
	for {
		if e.ConnectionCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (e *Engine) addConnection(c *Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[c.id] = c
}

func (e *Engine) removeConnection(c *Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, c.id)
}
