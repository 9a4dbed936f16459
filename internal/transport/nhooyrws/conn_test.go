package nhooyrws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nhooyr.io/websocket"

	"github.com/omochice/chat-session/internal/transport/nhooyrws"
)

func TestConn_Read(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		err = c.Write(context.Background(), websocket.MessageBinary, []byte("test message"))
		if err != nil {
			t.Errorf("failed to write: %v", err)
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	wsConn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	conn := nhooyrws.NewConn(wsConn, wsURL, true)

	data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "test message" {
		t.Errorf("Read() = %q, want %q", string(data), "test message")
	}
}

func TestConn_WriteUsesConfiguredMessageType(t *testing.T) {
	type frame struct {
		typ  websocket.MessageType
		data []byte
	}
	received := make(chan frame, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		typ, data, err := c.Read(context.Background())
		if err != nil {
			return
		}
		received <- frame{typ: typ, data: data}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	wsConn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	conn := nhooyrws.NewConn(wsConn, wsURL, false)

	if err := conn.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got := <-received
	if got.typ != websocket.MessageText {
		t.Errorf("server received type %v, want %v", got.typ, websocket.MessageText)
	}
	if string(got.data) != "hello" {
		t.Errorf("server received %q, want %q", string(got.data), "hello")
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		c.Read(context.Background())
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	wsConn, resp, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	conn := nhooyrws.NewConn(wsConn, resp.Request.URL.Host, true)
	if conn.RemoteAddr() == "" {
		t.Error("RemoteAddr() returned empty string")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
