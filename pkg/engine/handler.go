package engine

import (
	"log/slog"
	"net/http"

	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
	"github.com/mocklet/mocklet/pkg/websocket"
)

// notFoundBody is the exact payload returned for unmatched routes.
const notFoundBody = `{"error": "Not found"}`

// Handler serves mock HTTP responses and dispatches WebSocket upgrade
// requests to the WebSocket engine. Every request produces exactly one
// terminal event: request.handled on a match, request.not_found otherwise.
type Handler struct {
	routes *RouteTable
	bus    *event.Bus
	log    *slog.Logger
	ws     *websocket.Engine
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the operational logger.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithWebSocketEngine routes upgrade requests to ws instead of the HTTP
// route table. Upgrade requests emit connection events, never request
// events.
func WithWebSocketEngine(ws *websocket.Engine) HandlerOption {
	return func(h *Handler) {
		h.ws = ws
	}
}

// NewHandler creates a request handler over the given route table,
// publishing request lifecycle events on bus.
func NewHandler(routes *RouteTable, bus *event.Bus, opts ...HandlerOption) *Handler {
	h := &Handler{
		routes: routes,
		bus:    bus,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ws != nil && websocket.IsWebSocketRequest(r) {
		h.ws.ServeHTTP(w, r)
		return
	}

	// Published before route lookup: a request that matches nothing still
	// began.
	h.bus.Publish(event.RequestStarted, event.Attributes{
		"method":  r.Method,
		"url":     r.URL.Path,
		"headers": flattenHeaders(r.Header),
	})

	route := h.routes.Lookup(r.Method, r.URL.Path)
	if route == nil {
		h.log.Info("no route matched", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte(notFoundBody)); err != nil {
			h.log.Warn("writing not-found response", "error", err)
		}
		h.bus.Publish(event.RequestNotFound, event.Attributes{
			"method": r.Method,
			"url":    r.URL.Path,
			"status": http.StatusNotFound,
		})
		return
	}

	resp, err := Simulate(r.Context(), route)
	switch {
	case resp == nil:
		h.log.Error("rendering response", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, `{"error": "Internal server error"}`, http.StatusInternalServerError)
		h.bus.Publish(event.RequestHandled, event.Attributes{
			"method":   r.Method,
			"url":      r.URL.Path,
			"status":   http.StatusInternalServerError,
			"delay_ms": route.DelayMs,
		})
		return
	case err != nil:
		// Client went away during the delay. Nothing to write, but the
		// request still terminates with a handled event.
		h.log.Debug("request canceled during delay", "method", r.Method, "path", r.URL.Path)
	default:
		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		if len(resp.Body) > 0 && w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.Status)
		if _, err := w.Write(resp.Body); err != nil {
			h.log.Warn("writing response", "method", r.Method, "path", r.URL.Path, "error", err)
		}
	}

	h.log.Info("request handled",
		"method", r.Method, "path", r.URL.Path,
		"status", resp.Status, "delay_ms", route.DelayMs)
	h.bus.Publish(event.RequestHandled, event.Attributes{
		"method":   r.Method,
		"url":      r.URL.Path,
		"status":   resp.Status,
		"delay_ms": route.DelayMs,
	})
}

// flattenHeaders keeps the first value of each header, matching the shape
// observers expect in the headers attribute.
func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
