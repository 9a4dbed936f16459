package client

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/config"
	"github.com/omochice/chat-session/internal/dispatch"
	"github.com/omochice/chat-session/internal/metrics"
	"github.com/omochice/chat-session/internal/session"
	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/internal/transport/gorillaws"
	"github.com/omochice/chat-session/internal/transport/nhooyrws"
	"github.com/omochice/chat-session/internal/transport/ws"
	"github.com/omochice/chat-session/internal/view"
	"github.com/omochice/chat-session/pkg/protocol"
)

type options struct {
	dialer        transport.Dialer
	metrics       *metrics.Metrics
	viewOpts      []view.Option
	onStateChange func(from, to session.State)
}

// Option customizes a Client.
type Option func(*options)

// WithDialer replaces the dialer selected by the configured transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithMetrics records session metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithViewOptions passes options through to the session view.
func WithViewOptions(opts ...view.Option) Option {
	return func(o *options) {
		o.viewOpts = append(o.viewOpts, opts...)
	}
}

// WithStateListener is called after every connection state transition.
// It must not block.
func WithStateListener(fn func(from, to session.State)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// Client is one chat session.
type Client struct {
	bus        *dispatch.Bus
	store      *view.Store
	dispatcher *dispatch.Dispatcher
	manager    *session.Manager

	closed    atomic.Bool
	closeOnce sync.Once
}

// New builds a session from cfg. The transport is opened right away when
// cfg.AutoConnect is set; otherwise the caller calls Connect.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	url, err := cfg.SocketURL()
	if err != nil {
		return nil, err
	}
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = newDialer(cfg, codec)
	}

	bus := dispatch.NewBus()
	store := view.NewStore(o.viewOpts...)
	dispatcher := dispatch.New(bus, store)
	dispatcher.Attach()

	manager := session.New(session.Options{
		URL:    url,
		Dialer: o.dialer,
		Codec:  codec,
		Policy: session.Policy{
			Reconnection: cfg.Reconnection,
			Attempts:     cfg.ReconnectionAttempts,
			Delay:        cfg.ReconnectionDelay,
		},
		Events:        bus,
		WriteTimeout:  cfg.WriteTimeout,
		Metrics:       o.metrics,
		OnStateChange: o.onStateChange,
	})

	c := &Client{
		bus:        bus,
		store:      store,
		dispatcher: dispatcher,
		manager:    manager,
	}
	if cfg.AutoConnect {
		glog.V(2).Infof("[client]auto connect %s\n", url)
		manager.Connect("")
	}
	return c, nil
}

func newDialer(cfg config.Config, codec protocol.Codec) transport.Dialer {
	opts := transport.Options{Binary: codec.Binary(), HandshakeTimeout: cfg.DialTimeout}
	switch cfg.Transport {
	case transport.Gorilla:
		return gorillaws.NewDialer(opts)
	case transport.Nhooyr:
		return nhooyrws.NewDialer(opts)
	default:
		return ws.NewDialer(opts)
	}
}

// Connect opens the transport in the background and announces username
// once open. An empty username connects without announcing. Connect does
// nothing while connecting or connected, or after Close.
func (c *Client) Connect(username string) {
	if c.closed.Load() {
		return
	}
	c.manager.Connect(username)
}

// Disconnect closes the transport and cancels any pending reconnection.
// The view keeps its messages, roster and typing set.
func (c *Client) Disconnect() {
	c.manager.Disconnect()
}

// SendMessage sends text to the room.
func (c *Client) SendMessage(text string) {
	c.manager.Send(protocol.SendMessage(text))
}

// SendPrivateMessage sends text to the user with id to.
func (c *Client) SendPrivateMessage(to, text string) {
	c.manager.Send(protocol.PrivateMessage(to, text))
}

// SetTyping reports whether the local user is typing.
func (c *Client) SetTyping(isTyping bool) {
	c.manager.Send(protocol.Typing(isTyping))
}

// IsConnected reports the view's connection flag.
func (c *Client) IsConnected() bool {
	return c.store.Connected()
}

// State returns the connection manager state.
func (c *Client) State() session.State {
	return c.manager.State()
}

// LastMessage returns the most recent message, if any.
func (c *Client) LastMessage() (protocol.ChatMessage, bool) {
	snap := c.store.Snapshot()
	if snap.LastMessage == nil {
		return protocol.ChatMessage{}, false
	}
	return *snap.LastMessage, true
}

// Messages returns every message in arrival order.
func (c *Client) Messages() []protocol.ChatMessage {
	return c.store.Snapshot().Messages
}

// Users returns the roster keyed by user id.
func (c *Client) Users() map[string]protocol.PresenceRecord {
	return c.store.Snapshot().Users
}

// TypingUsers returns the ids of users currently typing.
func (c *Client) TypingUsers() []string {
	return c.store.Snapshot().TypingUsers
}

// Snapshot returns the whole view at once.
func (c *Client) Snapshot() view.Snapshot {
	return c.store.Snapshot()
}

// Subscribe calls listener after every view change until the returned
// function is called.
func (c *Client) Subscribe(listener func()) func() {
	return c.store.Subscribe(listener)
}

// On subscribes handler to a raw inbound channel. It runs on the session's
// delivery goroutine, after the view has been updated for the same event.
func (c *Client) On(name string, handler dispatch.Handler) dispatch.Disposer {
	return c.bus.Subscribe(name, handler)
}

// Close disconnects, waits for the session goroutine to exit and detaches
// the view. The Client cannot be reconnected afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.manager.Disconnect()
		c.manager.Wait()
		c.dispatcher.Detach()
	})
}
