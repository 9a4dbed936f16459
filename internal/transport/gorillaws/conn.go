// Package gorillaws provides a WebSocket transport built on gorilla/websocket.
package gorillaws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/transport"
)

const closeGracePeriod = time.Second

// Dialer opens client connections with gorilla/websocket.
type Dialer struct {
	opts transport.Options
}

// NewDialer creates a Dialer.
func NewDialer(opts transport.Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opts.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to server")
	}

	messageType := websocket.TextMessage
	if d.opts.Binary {
		messageType = websocket.BinaryMessage
	}
	return &Conn{conn: conn, messageType: messageType}, nil
}

// Conn adapts a gorilla connection to transport.Conn.
// gorilla allows one concurrent writer, so writes are serialized here.
type Conn struct {
	conn        *websocket.Conn
	messageType int
	writeMu     sync.Mutex
	closeOnce   sync.Once
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(c.messageType, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
