// Package ws provides the default WebSocket transport built on gobwas/ws.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/transport"
)

// Dialer opens client connections with gobwas/ws.
type Dialer struct {
	opts transport.Options
}

// NewDialer creates a Dialer.
func NewDialer(opts transport.Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	dialer := ws.Dialer{Timeout: d.opts.HandshakeTimeout}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to server")
	}

	op := ws.OpText
	if d.opts.Binary {
		op = ws.OpBinary
	}
	return &Conn{conn: conn, reader: handshakeReader(conn, br), op: op}, nil
}

// handshakeReader returns the reader for frames after the handshake. br may
// already hold the first frames; those bytes are copied out so br can go
// back to the pool.
func handshakeReader(conn net.Conn, br *bufio.Reader) io.Reader {
	if br == nil {
		return conn
	}
	defer ws.PutReader(br)

	buffered := make([]byte, br.Buffered())
	if _, err := io.ReadFull(br, buffered); err != nil || len(buffered) == 0 {
		return conn
	}
	return io.MultiReader(bytes.NewReader(buffered), conn)
}

// Conn adapts a gobwas client connection to transport.Conn.
type Conn struct {
	conn      net.Conn
	reader    io.Reader
	op        ws.OpCode
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Read implements transport.Conn.
// Control frames are answered inline; only data frames are returned.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	data, _, err := wsutil.ReadServerData(&lockedReadWriter{c: c})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteClientMessage(c.conn, c.op, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// lockedReadWriter lets wsutil answer pings and close frames without racing
// concurrent writers.
type lockedReadWriter struct {
	c *Conn
}

func (rw *lockedReadWriter) Read(p []byte) (int, error) {
	return rw.c.reader.Read(p)
}

func (rw *lockedReadWriter) Write(p []byte) (int, error) {
	rw.c.writeMu.Lock()
	defer rw.c.writeMu.Unlock()
	return rw.c.conn.Write(p)
}
