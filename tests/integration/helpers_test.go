package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mocklet/mocklet/pkg/config"
	"github.com/mocklet/mocklet/pkg/engine"
	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
	"github.com/mocklet/mocklet/pkg/telemetry"
	"github.com/mocklet/mocklet/pkg/tracing"
)

// spanCapture collects exported spans in place of a real trace backend.
type spanCapture struct {
	mu    sync.Mutex
	spans []*tracing.Span
}

func (c *spanCapture) Export(spans []*tracing.Span) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, spans...)
	return nil
}

func (c *spanCapture) Shutdown(context.Context) error { return nil }

// named returns captured spans with the given name.
func (c *spanCapture) named(name string) []*tracing.Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*tracing.Span
	for _, s := range c.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// testStack is a fully wired server with telemetry capture, started from a
// raw config document the way the serve command wires one.
type testStack struct {
	Server   *engine.Server
	Observer *telemetry.Observer
	Spans    *spanCapture
}

// startStack writes configContent to a temp file, loads it, and starts the
// full server with a capturing telemetry observer subscribed to the bus.
func startStack(t *testing.T, configContent string) *testStack {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mocks.json")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o644))

	doc, err := config.LoadFromFile(path)
	require.NoError(t, err)

	capture := &spanCapture{}
	observer := telemetry.New(
		telemetry.WithServiceName("mocklet-test"),
		telemetry.WithExporter(capture),
		telemetry.WithBatchSize(1),
	)
	require.NoError(t, observer.Start())

	bus := event.NewBus(logging.Nop())
	bus.Subscribe(observer)

	srv := engine.NewServer(doc, bus, engine.WithPort(0))
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		bus.Close()
	})

	return &testStack{Server: srv, Observer: observer, Spans: capture}
}

// testContext returns a context bounded to a typical test deadline.
func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// waitForSpans polls until at least n spans with the given name have been
// exported, flushing the observer between polls.
func (s *testStack) waitForSpans(t *testing.T, name string, n int) []*tracing.Span {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, s.Observer.Flush())
		if spans := s.Spans.named(name); len(spans) >= n {
			return spans
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q spans, got %d", n, name, len(s.Spans.named(name)))
	return nil
}
