// Package telemetry correlates server lifecycle events into trace spans.
//
// The Observer subscribes to the event bus, opens a span when an operation
// starts, and closes it when the matching completion event arrives. Spans
// are exported through pkg/tracing, either to stdout or to an OTLP/HTTP
// collector when an endpoint is configured.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
	"github.com/mocklet/mocklet/pkg/tracing"
)

// serverLifecycleKey is the fixed open-span key for the server lifecycle
// span, which outlives all request spans.
const serverLifecycleKey = "server.lifecycle"

// Observer builds correlated trace spans from the lifecycle event stream.
//
// Request spans are keyed by "method:path:timestamp". The key embeds the
// open timestamp, so it is unique per start event; completion events do not
// know that timestamp and instead scan open spans for the first key with
// the "method:path:" prefix. This pairs correctly as long as at most one
// request per (method, path) is in flight at a time; under concurrent
// duplicates a completion may close a sibling's span. The table itself is
// always consistent: a key is closed and evicted at most once, and closing
// an absent key is a no-op.
type Observer struct {
	serviceName  string
	otlpEndpoint string
	exporter     tracing.Exporter // overrides sink selection when set
	batchSize    int
	log          *slog.Logger

	handlers map[string]func(event.Attributes)

	mu          sync.Mutex
	open        map[string]*tracing.Span
	tracer      *tracing.Tracer
	initialized bool
}

// Option configures an Observer.
type Option func(*Observer)

// WithServiceName sets the service name reported on exported spans.
func WithServiceName(name string) Option {
	return func(o *Observer) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithOTLPEndpoint selects the OTLP/HTTP collector sink. When empty,
// spans are exported to stdout.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *Observer) { o.otlpEndpoint = endpoint }
}

// WithExporter sets an explicit exporter, bypassing sink selection.
func WithExporter(e tracing.Exporter) Option {
	return func(o *Observer) { o.exporter = e }
}

// WithBatchSize sets the export batch size.
func WithBatchSize(size int) Option {
	return func(o *Observer) { o.batchSize = size }
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Observer) {
		if log != nil {
			o.log = log
		}
	}
}

// New creates a telemetry Observer. Call Start (or Initialize) before
// subscribing it to a bus; events observed before initialization are
// ignored.
func New(opts ...Option) *Observer {
	o := &Observer{
		serviceName: "mocklet",
		batchSize:   100,
		log:         logging.Nop(),
		open:        make(map[string]*tracing.Span),
	}
	for _, opt := range opts {
		opt(o)
	}

	// Explicit event-name-to-handler mapping; unregistered names are
	// silently ignored in Observe.
	o.handlers = map[string]func(event.Attributes){
		event.ServerStarting:           o.onServerStarting,
		event.ServerStarted:            o.onServerStarted,
		event.ServerShuttingDown:       o.onServerShuttingDown,
		event.ServerStopped:            o.onServerStopped,
		event.RouteRegistered:          o.onRouteRegistered,
		event.RequestStarted:           o.onRequestStarted,
		event.RequestHandled:           o.onRequestHandled,
		event.RequestNotFound:          o.onRequestNotFound,
		event.ConnectionOpened:         o.onConnectionOpened,
		event.ConnectionMessageHandled: o.onConnectionMessage,
		event.ConnectionClosed:         o.onConnectionClosed,
	}
	return o
}

// Initialize constructs the export pipeline. Idempotent: re-entry after
// successful initialization is a no-op.
func (o *Observer) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.initialized {
		return nil
	}

	exporter := o.exporter
	if exporter == nil {
		if o.otlpEndpoint != "" {
			exporter = tracing.NewOTLPExporter(o.otlpEndpoint)
			o.log.Info("telemetry exporting to OTLP collector", "endpoint", o.otlpEndpoint)
		} else {
			exporter = tracing.NewStdoutExporter()
			o.log.Info("telemetry exporting to stdout")
		}
	}

	o.tracer = tracing.NewTracer(o.serviceName,
		tracing.WithExporter(exporter),
		tracing.WithBatchSize(o.batchSize),
	)
	o.initialized = true
	return nil
}

// Start initializes the observer if it has not been initialized yet.
func (o *Observer) Start() error {
	return o.Initialize()
}

// Observe dispatches an event to its handler. Events observed before
// initialization or after Stop are ignored, as are unknown event names.
func (o *Observer) Observe(e event.Event) {
	o.mu.Lock()
	ready := o.initialized
	o.mu.Unlock()
	if !ready {
		return
	}

	if handler, ok := o.handlers[e.Name]; ok {
		handler(e.Attributes)
	}
}

// Stop force-closes every still-open span with an error status, flushes
// the export pipeline, and transitions the observer back to uninitialized.
func (o *Observer) Stop() error {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return nil
	}
	open := o.open
	o.open = make(map[string]*tracing.Span)
	tracer := o.tracer
	o.initialized = false
	o.mu.Unlock()

	for _, span := range open {
		span.SetStatus(tracing.StatusError, "forced by shutdown")
		span.End()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tracer.Shutdown(ctx)
}

// Flush forces export of all buffered ended spans.
func (o *Observer) Flush() error {
	o.mu.Lock()
	tracer := o.tracer
	o.mu.Unlock()
	if tracer == nil {
		return nil
	}
	return tracer.Flush()
}

// OpenSpans returns the number of currently open spans.
func (o *Observer) OpenSpans() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

// storeOpen records an open span under its correlation key.
func (o *Observer) storeOpen(key string, span *tracing.Span) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open[key] = span
}

// takeOpen removes and returns the open span with the exact key, or nil.
func (o *Observer) takeOpen(key string) *tracing.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	span, ok := o.open[key]
	if !ok {
		return nil
	}
	delete(o.open, key)
	return span
}

// takeOpenByPrefix removes and returns the first open span whose key has
// the given prefix, in map iteration order, or nil when none matches.
func (o *Observer) takeOpenByPrefix(prefix string) *tracing.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, span := range o.open {
		if strings.HasPrefix(key, prefix) {
			delete(o.open, key)
			return span
		}
	}
	return nil
}

// findOpen returns the open span with the exact key without evicting it.
func (o *Observer) findOpen(key string) *tracing.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open[key]
}

// findOpenByPrefix returns the first open span whose key has the given
// prefix without evicting it.
func (o *Observer) findOpenByPrefix(prefix string) *tracing.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, span := range o.open {
		if strings.HasPrefix(key, prefix) {
			return span
		}
	}
	return nil
}

// requestKey derives the correlation key for a request span. The embedded
// timestamp makes it unique per start event.
func requestKey(method, url string) string {
	return method + ":" + url + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// requestPrefix is the portion of a request key known at completion time.
func requestPrefix(method, url string) string {
	return method + ":" + url + ":"
}

// connectionKey derives the correlation key for a WebSocket connection
// span; the key space is path-scoped.
func connectionKey(path string) string {
	return "WS:" + path + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// connectionPrefix is the portion of a connection key known at close time.
func connectionPrefix(path string) string {
	return "WS:" + path + ":"
}

func (o *Observer) onServerStarting(attrs event.Attributes) {
	span := o.tracer.StartSpan("server.lifecycle")
	span.SetAttribute("server.operation", "startup")
	span.SetAttribute("server.port", strconv.Itoa(attrs.Int("port")))
	o.storeOpen(serverLifecycleKey, span)
}

func (o *Observer) onServerStarted(attrs event.Attributes) {
	if span := o.findOpen(serverLifecycleKey); span != nil {
		span.AddEvent("server.listening", map[string]string{
			"server.port": strconv.Itoa(attrs.Int("port")),
		})
	}
}

func (o *Observer) onServerShuttingDown(event.Attributes) {
	if span := o.findOpen(serverLifecycleKey); span != nil {
		span.AddEvent("server.shutdown_initiated", nil)
	}
}

func (o *Observer) onServerStopped(event.Attributes) {
	span := o.takeOpen(serverLifecycleKey)
	if span == nil {
		return
	}
	span.AddEvent("server.shutdown_completed", nil)
	span.SetStatus(tracing.StatusOK, "")
	span.End()
}

// onRouteRegistered emits a zero-duration, self-contained span; no
// correlation is needed.
func (o *Observer) onRouteRegistered(attrs event.Attributes) {
	span := o.tracer.StartSpan("route.registration")
	span.SetAttribute("route.method", attrs.String("method"))
	span.SetAttribute("route.url", attrs.String("url"))
	span.SetAttribute("route.delay_ms", strconv.Itoa(attrs.Int("delay_ms")))
	span.End()
}

func (o *Observer) onRequestStarted(attrs event.Attributes) {
	method := attrs.String("method")
	url := attrs.String("url")

	span := o.tracer.StartSpan("http.request")
	span.SetAttribute("http.method", method)
	span.SetAttribute("http.url", url)
	span.SetAttribute("http.scheme", "http")
	span.SetAttribute("http.target", url)
	for name, value := range attrs.Headers("headers") {
		span.SetAttribute("http.request.header."+strings.ToLower(name), value)
	}

	o.storeOpen(requestKey(method, url), span)
}

func (o *Observer) onRequestHandled(attrs event.Attributes) {
	span := o.takeOpenByPrefix(requestPrefix(attrs.String("method"), attrs.String("url")))
	if span == nil {
		return // no matching open span; never created retroactively
	}

	status := attrs.Int("status")
	span.SetAttribute("http.status_code", strconv.Itoa(status))
	span.SetAttribute("http.response.delay_ms", strconv.Itoa(attrs.Int("delay_ms")))
	if status >= 200 && status < 400 {
		span.SetStatus(tracing.StatusOK, "")
	} else {
		span.SetStatus(tracing.StatusError, "")
	}
	span.End()
}

func (o *Observer) onRequestNotFound(attrs event.Attributes) {
	span := o.takeOpenByPrefix(requestPrefix(attrs.String("method"), attrs.String("url")))
	if span == nil {
		return
	}

	span.SetAttribute("http.status_code", "404")
	span.SetAttribute("error", "true")
	span.SetStatus(tracing.StatusError, "Not Found")
	span.End()
}

func (o *Observer) onConnectionOpened(attrs event.Attributes) {
	path := attrs.String("path")

	span := o.tracer.StartSpan("websocket.connection")
	span.SetAttribute("ws.path", path)
	if id := attrs.String("connection_id"); id != "" {
		span.SetAttribute("ws.connection_id", id)
	}

	o.storeOpen(connectionKey(path), span)
}

func (o *Observer) onConnectionMessage(attrs event.Attributes) {
	span := o.findOpenByPrefix(connectionPrefix(attrs.String("path")))
	if span == nil {
		return
	}
	span.AddEvent("websocket.message", map[string]string{
		"ws.response.delay_ms": strconv.Itoa(attrs.Int("delay_ms")),
	})
}

func (o *Observer) onConnectionClosed(attrs event.Attributes) {
	span := o.takeOpenByPrefix(connectionPrefix(attrs.String("path")))
	if span == nil {
		return
	}
	span.SetStatus(tracing.StatusOK, "")
	span.End()
}
