package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocklet/mocklet/pkg/tracing"
)

const wsConfig = `[
  {
    "path": "/chat",
    "on_connect": {"message": {"type": "welcome"}},
    "on_message": {"message": {"type": "ack"}, "delay": 20},
    "on_close": {"message": {"type": "goodbye"}}
  }
]`

func dialStack(t *testing.T, stack *testStack, path string) *ws.Conn {
	t.Helper()
	ctx, cancel := testContext(t)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d%s", stack.Server.Port(), path)
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	ctx, cancel := testContext(t)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketEndToEnd(t *testing.T) {
	stack := startStack(t, wsConfig)

	conn := dialStack(t, stack, "/chat")

	msg := readMessage(t, conn)
	assert.Equal(t, "welcome", msg["type"])

	ctx, cancel := testContext(t)
	defer cancel()

	start := time.Now()
	require.NoError(t, conn.Write(ctx, ws.MessageText, []byte(`{"hello":"there"}`)))
	msg = readMessage(t, conn)
	assert.Equal(t, "ack", msg["type"])
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, conn.Close(ws.StatusNormalClosure, "done"))

	spans := stack.waitForSpans(t, "websocket.connection", 1)
	span := spans[0]
	assert.Equal(t, "/chat", span.Attributes["ws.path"])
	assert.NotEmpty(t, span.Attributes["ws.connection_id"])
	assert.Equal(t, tracing.StatusOK, span.Status)

	require.Len(t, span.Events, 1)
	assert.Equal(t, "websocket.message", span.Events[0].Name)
	assert.Equal(t, "20", span.Events[0].Attrs["ws.response.delay_ms"])
}

func TestWebSocketUnknownPathRejected(t *testing.T) {
	stack := startStack(t, wsConfig)

	conn := dialStack(t, stack, "/nowhere")

	ctx, cancel := testContext(t)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, ws.StatusUnsupportedData, ws.CloseStatus(err))

	// Rejected upgrades never produce connection spans.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, stack.Observer.Flush())
	assert.Empty(t, stack.Spans.named("websocket.connection"))
}

func TestWebSocketShutdownClosesConnections(t *testing.T) {
	stack := startStack(t, wsConfig)

	conn := dialStack(t, stack, "/chat")
	readMessage(t, conn) // welcome

	ctx, cancel := testContext(t)
	defer cancel()
	require.NoError(t, stack.Server.Shutdown(ctx))

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			break
		}
	}

	spans := stack.waitForSpans(t, "websocket.connection", 1)
	assert.Equal(t, tracing.StatusOK, spans[0].Status)
	assert.Zero(t, stack.Observer.OpenSpans())
}
