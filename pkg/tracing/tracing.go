// Package tracing provides a lightweight span model and batched export
// pipeline for mocklet telemetry.
//
// Spans are created by a Tracer, accumulate attributes and events while
// open, and are handed to an Exporter in batches when ended. The package
// has no dependency on any telemetry backend; exporters target stdout or
// an OTLP/HTTP collector.
package tracing

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal status of a span.
type Status int

const (
	// StatusUnset is the default status.
	StatusUnset Status = iota
	// StatusOK indicates the operation completed successfully.
	StatusOK
	// StatusError indicates the operation failed.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Attrs     map[string]string `json:"attributes,omitempty"`
}

// Span is a named interval with attributes and a terminal status.
type Span struct {
	TraceID       string            `json:"traceId"`
	SpanID        string            `json:"spanId"`
	Name          string            `json:"name"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime,omitempty"`
	Status        Status            `json:"status"`
	StatusMessage string            `json:"statusMessage,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Events        []SpanEvent       `json:"events,omitempty"`

	mu     sync.Mutex
	tracer *Tracer
	ended  bool
}

// SetAttribute sets a key-value attribute. No-op after End.
func (s *Span) SetAttribute(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	s.Attributes[key] = value
}

// AddEvent appends a timestamped event to the span. No-op after End.
func (s *Span) AddEvent(name string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.Events = append(s.Events, SpanEvent{
		Name:      name,
		Timestamp: time.Now(),
		Attrs:     attrs,
	})
}

// SetStatus sets the status and optional message. No-op after End.
func (s *Span) SetStatus(status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.Status = status
	s.StatusMessage = message
}

// End marks the span as ended and queues it for export. Idempotent: only
// the first call records an end time and exports.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.EndTime = time.Now()
	tracer := s.tracer
	s.mu.Unlock()

	if tracer != nil {
		tracer.enqueue(s)
	}
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Tracer creates spans and batches ended spans for export.
type Tracer struct {
	serviceName string
	exporter    Exporter
	batchSize   int

	mu  sync.Mutex
	buf []*Span
	wg  sync.WaitGroup // tracks in-flight background exports
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithExporter sets the exporter the tracer hands batches to.
func WithExporter(e Exporter) TracerOption {
	return func(t *Tracer) { t.exporter = e }
}

// WithBatchSize sets how many ended spans accumulate before a background
// export is triggered.
func WithBatchSize(size int) TracerOption {
	return func(t *Tracer) {
		if size > 0 {
			t.batchSize = size
		}
	}
}

// NewTracer creates a Tracer for the given service name.
func NewTracer(serviceName string, opts ...TracerOption) *Tracer {
	t := &Tracer{
		serviceName: serviceName,
		batchSize:   100,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ServiceName returns the tracer's service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// StartSpan creates a new open span with fresh trace and span IDs.
func (t *Tracer) StartSpan(name string) *Span {
	s := &Span{
		TraceID:    newTraceID(),
		SpanID:     newSpanID(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: map[string]string{"service.name": t.serviceName},
		tracer:     t,
	}
	return s
}

// enqueue buffers an ended span and exports in the background once the
// batch is full.
func (t *Tracer) enqueue(s *Span) {
	if t.exporter == nil {
		return
	}

	t.mu.Lock()
	t.buf = append(t.buf, s)
	if len(t.buf) < t.batchSize {
		t.mu.Unlock()
		return
	}
	batch := t.buf
	t.buf = nil
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		_ = t.exporter.Export(batch)
	}()
}

// Flush waits for in-flight exports and exports any buffered spans.
func (t *Tracer) Flush() error {
	t.wg.Wait()

	t.mu.Lock()
	batch := t.buf
	t.buf = nil
	t.mu.Unlock()

	if t.exporter != nil && len(batch) > 0 {
		return t.exporter.Export(batch)
	}
	return nil
}

// Shutdown flushes buffered spans, then shuts the exporter down.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if err := t.Flush(); err != nil {
		return err
	}
	if t.exporter != nil {
		return t.exporter.Shutdown(ctx)
	}
	return nil
}

// newTraceID returns a 32-hex-char trace ID derived from a random UUID.
func newTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newSpanID returns a 16-hex-char span ID derived from a random UUID.
func newSpanID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}
