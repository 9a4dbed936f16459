// Package nhooyrws provides a WebSocket transport built on nhooyr.io/websocket.
// Its Conn also backs the relay server side.
package nhooyrws

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/omochice/chat-session/internal/transport"
)

// readLimit caps a single inbound frame.
const readLimit = 1 << 20

// Dialer opens client connections with nhooyr.io/websocket.
type Dialer struct {
	opts transport.Options
}

// NewDialer creates a Dialer.
func NewDialer(opts transport.Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	if d.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.HandshakeTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to server")
	}
	return NewConn(conn, url, d.opts.Binary), nil
}

// Conn adapts a nhooyr.io/websocket connection to transport.Conn.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string
	typ        websocket.MessageType
	closeOnce  sync.Once
}

// NewConn wraps an open connection. addr is only used for logging.
func NewConn(conn *websocket.Conn, addr string, binary bool) *Conn {
	conn.SetReadLimit(readLimit)
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return &Conn{conn: conn, remoteAddr: addr, typ: typ}
}

// Read implements transport.Conn.
// Cancelling ctx closes the connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, c.typ, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
