package relay

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/omochice/chat-session/internal/transport/nhooyrws"
)

const (
	outgoingBuffer = 64
	writeTimeout   = 5 * time.Second
)

// Server accepts WebSocket connections and delegates them to a Hub.
type Server struct {
	address string
	path    string
	hub     *Hub

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server that listens on address and serves sockets
// on path.
func NewServer(address, path string, hub *Hub) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		path:    path,
		hub:     hub,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP routes: the socket endpoint and a health check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.path, s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.address)
	}
	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	glog.Infof("[relay]listening on %s%s\n", listener.Addr(), s.path)
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Stop closes the listener, disconnects every socket and waits for their
// goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	server := s.server
	s.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// track registers a socket handler with Stop. It fails once Stop has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		glog.Infof("[relay]accept %s error = %v\n", r.RemoteAddr, err)
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		Conn:     nhooyrws.NewConn(wsConn, r.RemoteAddr, s.hub.Codec().Binary()),
		Outgoing: make(chan []byte, outgoingBuffer),
	}
	glog.V(2).Infof("[relay]%s open from %s\n", client.ID, r.RemoteAddr)

	s.hub.Register(client)
	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(client)
	}()

	s.hub.HandleClient(s.ctx, client)
	<-written
	client.Conn.Close()
	glog.V(2).Infof("[relay]%s closed\n", client.ID)
}

// writeLoop drains the client's queue until Unregister closes it.
func (s *Server) writeLoop(client *Client) {
	for data := range client.Outgoing {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := client.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			glog.V(2).Infof("[relay]%s write error = %v\n", client.ID, err)
			// the read side fails next and unregisters the client
			client.Conn.Close()
			return
		}
	}
}
