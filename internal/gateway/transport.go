package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// DefaultPingTimeout is how long a read may wait without receiving any
// frame before the connection is treated as dead.
var DefaultPingTimeout = 45 * time.Second

// ErrPingTimeout is returned when no frames are received within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// maxReadSize caps a single frame. Message windows are JSON and stay well
// below this; anything larger is likely malformed.
const maxReadSize = 4 << 20

// Conn is one duplex connection to the gateway.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections. The manager redials through it on every
// reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// WebSocketDialer dials the gateway over WebSocket.
type WebSocketDialer struct {
	// Header is sent with the upgrade request.
	Header http.Header
	// PingTimeout bounds each read; zero means DefaultPingTimeout and a
	// negative value disables it.
	PingTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	timeout := d.PingTimeout
	if timeout == 0 {
		timeout = DefaultPingTimeout
	}
	return &wsConn{conn: conn, pingTimeout: timeout}, nil
}

type wsConn struct {
	conn        *websocket.Conn
	pingTimeout time.Duration
}

// Read applies a rolling deadline so that half-dead connections (no FIN/RST,
// just silence) get detected.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if c.pingTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, c.pingTimeout)
		}
		typ, data, err := c.conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			// Distinguish ping timeout from parent context cancellation.
			if c.pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
				return nil, ErrPingTimeout
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
