// Package transporttest provides an in-memory transport for exercising the
// session state machine without a network.
package transporttest

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

// Conn is an in-memory transport.Conn. Frames pushed with Push are returned
// by Read; frames written by the client are recorded.
type Conn struct {
	codec     protocol.Codec
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

// NewConn creates an open Conn that encodes helper events with codec.
func NewConn(codec protocol.Codec) *Conn {
	return &Conn{
		codec:   codec,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case data := <-c.inbound:
		return data, nil
	}
}

// Write implements transport.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	c.written = append(c.written, copied)
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return "memory"
}

// Drop simulates the server going away.
func (c *Conn) Drop() {
	c.Close()
}

// IsClosed reports whether either side closed the connection.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Push queues an inbound event.
func (c *Conn) Push(ev protocol.Event) error {
	data, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}
	c.inbound <- data
	return nil
}

// PushRaw queues an inbound frame as is.
func (c *Conn) PushRaw(data []byte) {
	c.inbound <- data
}

// Events decodes every frame written so far.
func (c *Conn) Events() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Event, 0, len(c.written))
	for _, data := range c.written {
		ev, err := c.codec.Decode(data)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Dialer hands out Conns, or fails while an error is set.
type Dialer struct {
	codec protocol.Codec

	mu    sync.Mutex
	err   error
	calls int
	conns []*Conn
	urls  []string
}

// NewDialer creates a Dialer whose Conns use codec.
func NewDialer(codec protocol.Codec) *Dialer {
	return &Dialer{codec: codec}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.urls = append(d.urls, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := NewConn(d.codec)
	d.conns = append(d.conns, conn)
	return conn, nil
}

// SetError makes every following Dial fail with err. nil restores success.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Calls returns how many times Dial ran.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// URLs returns every dialed URL in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Conns returns every Conn handed out, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
