package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrConnectionClosed indicates the connection is closed.
var ErrConnectionClosed = errors.New("connection closed")

// Connection wraps an accepted WebSocket connection.
type Connection struct {
	id          string
	path        string
	conn        *ws.Conn
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// newConnection wraps a websocket.Conn accepted on the given path.
func newConnection(wsConn *ws.Conn, path string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:          uuid.NewString(),
		path:        path,
		conn:        wsConn,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID returns the unique connection ID.
func (c *Connection) ID() string { return c.id }

// Path returns the endpoint path this connection belongs to.
func (c *Connection) Path() string { return c.path }

// ConnectedAt returns the connection establishment time.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Context returns the connection context; it is canceled on Close.
func (c *Connection) Context() context.Context { return c.ctx }

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// SendJSON marshals v and sends it as a text frame.
func (c *Connection) SendJSON(v any) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, ws.MessageText, data)
}

// Read blocks for the next message from the client. Close unblocks it by
// canceling the connection context.
func (c *Connection) Read() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

// Close closes the connection with the given status code and reason.
// Subsequent calls are no-ops.
func (c *Connection) Close(code ws.StatusCode, reason string) error {
	if c.closed.Swap(true) {
		return ErrConnectionClosed
	}
	c.cancel()
	return c.conn.Close(code, reason)
}
