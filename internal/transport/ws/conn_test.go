package ws_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobwas "github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/internal/transport/ws"
)

// newEchoServer answers every frame with the same bytes and message type.
func newEchoServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDialer_WriteAndRead(t *testing.T) {
	url := newEchoServer(t)

	for _, binary := range []bool{true, false} {
		dialer := ws.NewDialer(transport.Options{Binary: binary, HandshakeTimeout: time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		conn, err := dialer.Dial(ctx, url)
		require.NoError(t, err)

		require.NoError(t, conn.Write(ctx, []byte("hello")))
		data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
		assert.NotEmpty(t, conn.RemoteAddr())

		require.NoError(t, conn.Close())
		assert.NoError(t, conn.Close(), "second close is a no-op")
		cancel()
	}
}

func TestDialer_Refused(t *testing.T) {
	dialer := ws.NewDialer(transport.Options{HandshakeTimeout: 200 * time.Millisecond})
	_, err := dialer.Dial(context.Background(), "ws://127.0.0.1:1/socket")
	assert.Error(t, err)
}

func TestConn_ReadFailsAfterServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusGoingAway, "bye")
	}))
	defer server.Close()

	dialer := ws.NewDialer(transport.Options{Binary: true})
	conn, err := dialer.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(context.Background())
	assert.Error(t, err)
}

// newEagerServer completes the handshake and sends frames in the same TCP
// write, so they arrive in the client's handshake buffer.
func newEagerServer(t *testing.T, frames ...string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		sum := sha1.Sum([]byte(req.Header.Get("Sec-WebSocket-Key") + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))

		var out bytes.Buffer
		out.WriteString("HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + base64.StdEncoding.EncodeToString(sum[:]) + "\r\n\r\n")
		for _, f := range frames {
			if err := gobwas.WriteFrame(&out, gobwas.NewTextFrame([]byte(f))); err != nil {
				return
			}
		}
		if _, err := conn.Write(out.Bytes()); err != nil {
			return
		}
		// hold the connection until the client goes away
		_, _ = io.Copy(io.Discard, conn)
	}()
	return "ws://" + listener.Addr().String() + "/socket"
}

func TestDialer_FramesSentWithHandshakeAreRead(t *testing.T) {
	url := newEagerServer(t, "first", "second")
	dialer := ws.NewDialer(transport.Options{HandshakeTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := dialer.Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close()

	for _, want := range []string{"first", "second"} {
		data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}
