package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// Exporter sends ended spans to a sink.
type Exporter interface {
	// Export sends a batch of spans.
	Export(spans []*Span) error
	// Shutdown releases exporter resources.
	Shutdown(ctx context.Context) error
}

// StdoutExporter writes spans as JSON lines, one span per line.
// It is the default sink when no collector endpoint is configured.
type StdoutExporter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
}

// StdoutOption configures a StdoutExporter.
type StdoutOption func(*StdoutExporter)

// WithWriter sets the output writer.
func WithWriter(w io.Writer) StdoutOption {
	return func(e *StdoutExporter) { e.writer = w }
}

// WithPrettyPrint enables indented JSON output.
func WithPrettyPrint() StdoutOption {
	return func(e *StdoutExporter) { e.pretty = true }
}

// NewStdoutExporter creates a stdout exporter.
func NewStdoutExporter(opts ...StdoutOption) *StdoutExporter {
	e := &StdoutExporter{writer: os.Stdout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// spanLine is the JSON encoding of one exported span.
type spanLine struct {
	TraceID       string            `json:"traceId"`
	SpanID        string            `json:"spanId"`
	Name          string            `json:"name"`
	StartTime     string            `json:"startTime"`
	EndTime       string            `json:"endTime"`
	Duration      string            `json:"duration"`
	Status        string            `json:"status"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Events        []spanLineEvent   `json:"events,omitempty"`
}

type spanLineEvent struct {
	Name       string            `json:"name"`
	Timestamp  string            `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Export writes each span as a JSON line.
func (e *StdoutExporter) Export(spans []*Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range spans {
		line := spanLine{
			TraceID:       s.TraceID,
			SpanID:        s.SpanID,
			Name:          s.Name,
			StartTime:     s.StartTime.Format(time.RFC3339Nano),
			EndTime:       s.EndTime.Format(time.RFC3339Nano),
			Duration:      s.EndTime.Sub(s.StartTime).String(),
			Status:        s.Status.String(),
			StatusMessage: s.StatusMessage,
			Attributes:    s.Attributes,
		}
		for _, ev := range s.Events {
			line.Events = append(line.Events, spanLineEvent{
				Name:       ev.Name,
				Timestamp:  ev.Timestamp.Format(time.RFC3339Nano),
				Attributes: ev.Attrs,
			})
		}

		var data []byte
		var err error
		if e.pretty {
			data, err = json.MarshalIndent(line, "", "  ")
		} else {
			data, err = json.Marshal(line)
		}
		if err != nil {
			return fmt.Errorf("failed to marshal span: %w", err)
		}
		if _, err := fmt.Fprintln(e.writer, string(data)); err != nil {
			return fmt.Errorf("failed to write span: %w", err)
		}
	}
	return nil
}

// Shutdown is a no-op for the stdout exporter.
func (e *StdoutExporter) Shutdown(context.Context) error { return nil }

// OTLPExporter posts spans as OTLP/HTTP JSON to a collector endpoint.
type OTLPExporter struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	retries  int

	mu       sync.Mutex
	shutdown bool
}

// OTLPOption configures an OTLPExporter.
type OTLPOption func(*OTLPExporter)

// WithOTLPHeaders sets extra request headers (e.g. auth).
func WithOTLPHeaders(headers map[string]string) OTLPOption {
	return func(e *OTLPExporter) { e.headers = headers }
}

// WithOTLPClient sets a custom HTTP client.
func WithOTLPClient(client *http.Client) OTLPOption {
	return func(e *OTLPExporter) { e.client = client }
}

// WithOTLPRetries sets the number of retry attempts per batch.
func WithOTLPRetries(n int) OTLPOption {
	return func(e *OTLPExporter) { e.retries = n }
}

// NewOTLPExporter creates an OTLP/HTTP exporter targeting the given
// endpoint (e.g. http://localhost:4318/v1/traces).
func NewOTLPExporter(endpoint string, opts ...OTLPOption) *OTLPExporter {
	e := &OTLPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  make(map[string]string),
		retries:  3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export sends the batch, retrying with exponential backoff on failure.
func (e *OTLPExporter) Export(spans []*Span) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return fmt.Errorf("exporter is shut down")
	}
	e.mu.Unlock()

	if len(spans) == 0 {
		return nil
	}

	data, err := json.Marshal(toOTLP(spans))
	if err != nil {
		return fmt.Errorf("failed to marshal OTLP payload: %w", err)
	}

	var lastErr error
	for i := 0; i <= e.retries; i++ {
		if err := e.send(data); err != nil {
			lastErr = err
			if i < e.retries {
				time.Sleep(time.Duration(1<<i) * 100 * time.Millisecond)
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (e *OTLPExporter) send(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("OTLP export failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Shutdown marks the exporter as shut down; further exports fail.
func (e *OTLPExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

// OTLP/HTTP JSON structures (simplified single-service form).

type otlpRequest struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

type otlpResourceSpans struct {
	Resource   otlpResource    `json:"resource"`
	ScopeSpans []otlpScopeSpan `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpKeyValue `json:"attributes"`
}

type otlpScopeSpan struct {
	Scope otlpScope  `json:"scope"`
	Spans []otlpSpan `json:"spans"`
}

type otlpScope struct {
	Name string `json:"name"`
}

type otlpSpan struct {
	TraceID           string         `json:"traceId"`
	SpanID            string         `json:"spanId"`
	Name              string         `json:"name"`
	Kind              int            `json:"kind"`
	StartTimeUnixNano string         `json:"startTimeUnixNano"`
	EndTimeUnixNano   string         `json:"endTimeUnixNano"`
	Attributes        []otlpKeyValue `json:"attributes,omitempty"`
	Events            []otlpEvent    `json:"events,omitempty"`
	Status            otlpStatus     `json:"status"`
}

type otlpKeyValue struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
}

type otlpEvent struct {
	TimeUnixNano string         `json:"timeUnixNano"`
	Name         string         `json:"name"`
	Attributes   []otlpKeyValue `json:"attributes,omitempty"`
}

type otlpStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// toOTLP converts a batch of spans into an OTLP trace request. All spans in
// a batch share one tracer, so a single resource entry suffices.
func toOTLP(spans []*Span) otlpRequest {
	serviceName := "unknown"
	if len(spans) > 0 {
		if svc := spans[0].Attributes["service.name"]; svc != "" {
			serviceName = svc
		}
	}

	otlpSpans := make([]otlpSpan, 0, len(spans))
	for _, s := range spans {
		otlpSpans = append(otlpSpans, toOTLPSpan(s))
	}

	return otlpRequest{
		ResourceSpans: []otlpResourceSpans{{
			Resource: otlpResource{
				Attributes: []otlpKeyValue{
					{Key: "service.name", Value: otlpValue{StringValue: serviceName}},
				},
			},
			ScopeSpans: []otlpScopeSpan{{
				Scope: otlpScope{Name: "mocklet/tracing"},
				Spans: otlpSpans,
			}},
		}},
	}
}

func toOTLPSpan(s *Span) otlpSpan {
	var attrs []otlpKeyValue
	for k, v := range s.Attributes {
		if k == "service.name" {
			continue // on the resource, not the span
		}
		attrs = append(attrs, otlpKeyValue{Key: k, Value: otlpValue{StringValue: v}})
	}

	var events []otlpEvent
	for _, ev := range s.Events {
		var evAttrs []otlpKeyValue
		for k, v := range ev.Attrs {
			evAttrs = append(evAttrs, otlpKeyValue{Key: k, Value: otlpValue{StringValue: v}})
		}
		events = append(events, otlpEvent{
			TimeUnixNano: strconv.FormatInt(ev.Timestamp.UnixNano(), 10),
			Name:         ev.Name,
			Attributes:   evAttrs,
		})
	}

	code := 0 // UNSET
	switch s.Status {
	case StatusOK:
		code = 1
	case StatusError:
		code = 2
	}

	return otlpSpan{
		TraceID:           s.TraceID,
		SpanID:            s.SpanID,
		Name:              s.Name,
		Kind:              2, // SERVER
		StartTimeUnixNano: strconv.FormatInt(s.StartTime.UnixNano(), 10),
		EndTimeUnixNano:   strconv.FormatInt(s.EndTime.UnixNano(), 10),
		Attributes:        attrs,
		Events:            events,
		Status:            otlpStatus{Code: code, Message: s.StatusMessage},
	}
}

// NoopExporter discards all spans. Used when telemetry is disabled.
type NoopExporter struct{}

// NewNoopExporter creates a NoopExporter.
func NewNoopExporter() *NoopExporter { return &NoopExporter{} }

// Export discards the batch.
func (*NoopExporter) Export([]*Span) error { return nil }

// Shutdown is a no-op.
func (*NoopExporter) Shutdown(context.Context) error { return nil }
