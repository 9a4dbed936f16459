// Package transport abstracts the bidirectional channel the session runs on.
// Implementations live in the sub-packages, one per WebSocket library.
package transport

import (
	"context"
	"time"
)

// Names accepted in configuration.
const (
	Gobwas  = "gobwas"
	Gorilla = "gorilla"
	Nhooyr  = "nhooyr"
)

// Conn is one open transport. Each Read and Write moves a whole frame.
type Conn interface {
	// Read blocks for the next frame. It returns an error once the
	// connection is closed from either side.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Calling it more than once is safe.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens a Conn to a WebSocket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options are shared by every Dialer implementation.
type Options struct {
	// Binary selects binary frames; text frames otherwise.
	Binary bool

	// HandshakeTimeout bounds the opening handshake. Zero means no limit
	// beyond the dial context.
	HandshakeTimeout time.Duration
}
