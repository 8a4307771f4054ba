package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/mocklet/mocklet/pkg/config"
	"github.com/mocklet/mocklet/pkg/event"
	"github.com/mocklet/mocklet/pkg/logging"
)

// recordingObserver captures events published during a test.
type recordingObserver struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingObserver) Initialize() error { return nil }
func (r *recordingObserver) Start() error      { return nil }
func (r *recordingObserver) Stop() error       { return nil }

func (r *recordingObserver) Observe(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) named(name string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingObserver) waitFor(t *testing.T, name string, n int) []event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.named(name); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %d", n, name, len(r.named(name)))
	return nil
}

func newTestEngine(t *testing.T, endpoints []*config.WSEndpoint) (*Engine, *recordingObserver, string) {
	t.Helper()
	rec := &recordingObserver{}
	bus := event.NewBus(logging.Nop())
	bus.Subscribe(rec)

	engine := NewEngine(endpoints, bus)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return engine, rec, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readJSON(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestEngineOnConnect(t *testing.T) {
	_, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{
			Path: "/chat",
			OnConnect: &config.WSResponse{
				Message: map[string]any{"type": "welcome"},
				DelayMs: 50,
			},
		},
	})

	start := time.Now()
	conn := dial(t, url+"/chat")
	defer conn.Close(ws.StatusNormalClosure, "")

	msg := readJSON(t, conn)
	if msg["type"] != "welcome" {
		t.Errorf("on_connect message = %v, want type=welcome", msg)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("on_connect arrived after %v, want >= 50ms", elapsed)
	}

	opened := rec.waitFor(t, event.ConnectionOpened, 1)
	if got := opened[0].Attributes.String("path"); got != "/chat" {
		t.Errorf("connection.opened path = %q, want /chat", got)
	}
	if opened[0].Attributes.String("connection_id") == "" {
		t.Error("connection.opened missing connection_id")
	}
}

func TestEngineOnMessage(t *testing.T) {
	_, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{
			Path: "/echo",
			OnMessage: &config.WSResponse{
				Message: map[string]any{"type": "ack"},
			},
		},
	})

	conn := dial(t, url+"/echo")
	defer conn.Close(ws.StatusNormalClosure, "")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := conn.Write(ctx, ws.MessageText, []byte(`{"n":1}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg := readJSON(t, conn)
		if msg["type"] != "ack" {
			t.Errorf("reply = %v, want type=ack", msg)
		}
	}

	handled := rec.waitFor(t, event.ConnectionMessageHandled, 3)
	if got := handled[0].Attributes.String("path"); got != "/echo" {
		t.Errorf("message_handled path = %q, want /echo", got)
	}
}

func TestEngineNoOnMessageConfigured(t *testing.T) {
	_, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{Path: "/silent"},
	})

	conn := dial(t, url+"/silent")

	ctx := context.Background()
	if err := conn.Write(ctx, ws.MessageText, []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.Close(ws.StatusNormalClosure, "")

	rec.waitFor(t, event.ConnectionClosed, 1)
	if got := rec.named(event.ConnectionMessageHandled); len(got) != 0 {
		t.Errorf("got %d connection.message_handled events, want 0", len(got))
	}
}

func TestEngineOnClose(t *testing.T) {
	_, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{
			Path: "/chat",
			OnClose: &config.WSResponse{
				Message: map[string]any{"type": "goodbye"},
			},
		},
	})

	conn := dial(t, url+"/chat")
	conn.Close(ws.StatusNormalClosure, "")

	closed := rec.waitFor(t, event.ConnectionClosed, 1)
	if got := closed[0].Attributes.String("path"); got != "/chat" {
		t.Errorf("connection.closed path = %q, want /chat", got)
	}
}

func TestEngineRejectsUnconfiguredPath(t *testing.T) {
	_, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{Path: "/chat"},
	})

	conn := dial(t, url+"/nope")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected close, got message")
	}
	if got := ws.CloseStatus(err); got != ws.StatusUnsupportedData {
		t.Errorf("close status = %v, want %v (1003)", got, ws.StatusUnsupportedData)
	}

	time.Sleep(50 * time.Millisecond)
	if got := rec.named(event.ConnectionOpened); len(got) != 0 {
		t.Errorf("got %d connection.opened events for rejected path, want 0", len(got))
	}
}

func TestEngineCloseAll(t *testing.T) {
	engine, rec, url := newTestEngine(t, []*config.WSEndpoint{
		{Path: "/chat"},
	})

	conn := dial(t, url+"/chat")
	defer conn.Close(ws.StatusNormalClosure, "")

	rec.waitFor(t, event.ConnectionOpened, 1)
	if got := engine.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	engine.CloseAll(ctx)

	rec.waitFor(t, event.ConnectionClosed, 1)
	if got := engine.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() after CloseAll = %d, want 0", got)
	}
}

func TestEngineDuplicatePathFirstWins(t *testing.T) {
	engine := NewEngine([]*config.WSEndpoint{
		{Path: "/chat", OnConnect: &config.WSResponse{Message: map[string]any{"v": "first"}}},
		{Path: "/chat", OnConnect: &config.WSResponse{Message: map[string]any{"v": "second"}}},
	}, event.NewBus(logging.Nop()))

	ep := engine.Endpoints()["/chat"]
	if ep == nil || ep.OnConnect.Message["v"] != "first" {
		t.Errorf("duplicate path: got %+v, want first endpoint", ep)
	}
}

func TestIsWebSocketRequest(t *testing.T) {
	tests := []struct {
		name       string
		connection string
		upgrade    string
		want       bool
	}{
		{"upgrade request", "Upgrade", "websocket", true},
		{"keep-alive with upgrade", "keep-alive, Upgrade", "websocket", true},
		{"case insensitive", "upgrade", "WebSocket", true},
		{"plain http", "", "", false},
		{"upgrade to h2c", "Upgrade", "h2c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.connection != "" {
				r.Header.Set("Connection", tt.connection)
			}
			if tt.upgrade != "" {
				r.Header.Set("Upgrade", tt.upgrade)
			}
			if got := IsWebSocketRequest(r); got != tt.want {
				t.Errorf("IsWebSocketRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}
