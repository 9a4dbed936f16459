// Package session owns the transport of a chat session: it opens it, keeps
// it open with a bounded reconnection policy, writes outbound events and
// publishes inbound ones.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/metrics"
	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal until the caller calls Connect again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy is the automatic reconnection policy.
type Policy struct {
	Reconnection bool
	// Attempts is the number of consecutive failed reconnection dials
	// tolerated before giving up.
	Attempts int
	// Delay is waited before every reconnection dial. It is fixed.
	Delay time.Duration
}

// DefaultPolicy retries five times, one second apart.
func DefaultPolicy() Policy {
	return Policy{Reconnection: true, Attempts: 5, Delay: time.Second}
}

// Emitter receives inbound events, one at a time, in arrival order.
type Emitter interface {
	Emit(ev protocol.Event)
}

// Options configure a Manager.
type Options struct {
	URL          string
	Dialer       transport.Dialer
	Codec        protocol.Codec
	Policy       Policy
	Events       Emitter
	WriteTimeout time.Duration
	Metrics      *metrics.Metrics

	// OnStateChange is called after every transition. It must not block.
	OnStateChange func(from, to State)
}

// Manager is the connection manager of one session.
type Manager struct {
	opts Options

	mu     sync.Mutex
	state  State
	conn   transport.Conn
	cancel context.CancelFunc
	// done is closed when the current supervisor goroutine exits.
	done chan struct{}
	// gen identifies the current supervisor; transitions from an older one
	// are ignored.
	gen uint64
}

// New creates a disconnected Manager.
func New(opts Options) *Manager {
	if opts.Codec == nil {
		opts.Codec = protocol.ProtoCodec{}
	}
	if opts.Events == nil {
		opts.Events = discard{}
	}
	return &Manager{opts: opts}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect opens the transport in the background. When username is not
// empty, user_join is written each time the transport opens. Connect does
// nothing while connecting or connected.
func (m *Manager) Connect(username string) {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := m.done
	done := make(chan struct{})
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	from := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.changed(from, StateConnecting)
	go m.run(ctx, gen, username, prev, done)
}

// Disconnect closes the transport and stops any reconnection sequence.
// It does not wait for the supervisor to exit; see Wait.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.gen++
	from := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	m.changed(from, StateDisconnected)
}

// Wait blocks until the most recent supervisor goroutine has exited.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Send writes ev when connected and drops it otherwise. It never queues
// and never reports failure to the caller.
func (m *Manager) Send(ev protocol.Event) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		glog.V(2).Infof("[session]drop %s-> not connected\n", ev.Name)
		m.opts.Metrics.Dropped(ev.Name)
		return
	}

	data, err := m.opts.Codec.Encode(ev)
	if err != nil {
		glog.Infof("[session]drop %s-> encode error = %v\n", ev.Name, err)
		m.opts.Metrics.Dropped(ev.Name)
		return
	}

	ctx, cancel := m.writeContext()
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		// the read loop notices the broken transport and takes over
		glog.Infof("[session]%s-> error = %v\n", ev.Name, err)
		m.opts.Metrics.Dropped(ev.Name)
		return
	}
	m.opts.Metrics.Outbound(ev.Name)
	glog.V(2).Infof("[session]%s->\n", ev.Name)
}

// run is the supervisor: dial, read until the transport closes, then retry
// according to the policy. At most one run is active per Manager.
func (m *Manager) run(ctx context.Context, gen uint64, username string, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	if prev != nil {
		// keep inbound delivery sequential across Disconnect/Connect
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	attempt := 0
	for {
		conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Infof("[session]connect %s error = %v\n", m.opts.URL, err)
			if !m.scheduleRetry(ctx, gen, attempt) {
				return
			}
			attempt++
			continue
		}
		if username != "" {
			// the identity goes out before the transport is published, so no
			// command can overtake it
			if err := m.announce(conn, username); err != nil {
				conn.Close()
				if ctx.Err() != nil {
					return
				}
				glog.Infof("[session]announce on %s error = %v\n", m.opts.URL, err)
				if !m.scheduleRetry(ctx, gen, attempt) {
					return
				}
				attempt++
				continue
			}
		}
		attempt = 0

		if !m.open(gen, conn) {
			conn.Close()
			return
		}
		glog.V(2).Infof("[session]open %s\n", conn.RemoteAddr())
		m.opts.Events.Emit(protocol.Event{Name: protocol.EventConnect})

		err = m.readLoop(ctx, conn)
		m.release(gen, conn)
		m.opts.Events.Emit(protocol.Event{Name: protocol.EventDisconnect})

		if ctx.Err() != nil {
			return
		}
		glog.Infof("[session]connection to %s lost = %v\n", m.opts.URL, err)
		if !m.opts.Policy.Reconnection {
			return
		}
		if !m.scheduleRetry(ctx, gen, attempt) {
			return
		}
		attempt++
	}
}

// scheduleRetry waits for the next reconnection dial. It returns false, and
// leaves the manager failed, once the policy is exhausted.
func (m *Manager) scheduleRetry(ctx context.Context, gen uint64, attempt int) bool {
	policy := m.opts.Policy
	if !policy.Reconnection || attempt >= policy.Attempts {
		glog.Infof("[session]giving up on %s after %d reconnection attempts\n", m.opts.URL, attempt)
		m.transition(gen, StateFailed)
		return false
	}
	if !m.transition(gen, StateConnecting) {
		return false
	}

	timer := time.NewTimer(policy.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	m.opts.Metrics.ReconnectAttempt()
	glog.V(2).Infof("[session]reconnect %s attempt %d/%d\n", m.opts.URL, attempt+1, policy.Attempts)
	return true
}

// announce writes user_join on conn, which is not yet visible to Send.
func (m *Manager) announce(conn transport.Conn, username string) error {
	ev := protocol.UserJoin(username)
	data, err := m.opts.Codec.Encode(ev)
	if err != nil {
		return errors.Wrap(err, "encode user_join")
	}
	ctx, cancel := m.writeContext()
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return errors.Wrap(err, "write user_join")
	}
	m.opts.Metrics.Outbound(ev.Name)
	glog.V(2).Infof("[session]%s->\n", ev.Name)
	return nil
}

func (m *Manager) writeContext() (context.Context, context.CancelFunc) {
	if m.opts.WriteTimeout > 0 {
		return context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	}
	return context.WithCancel(context.Background())
}

func (m *Manager) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ev, err := m.opts.Codec.Decode(data)
		if err != nil {
			glog.Infof("[session]<- decode error = %v\n", err)
			continue
		}
		switch ev.Name {
		case protocol.EventConnect, protocol.EventDisconnect:
			// lifecycle channels are published locally only
			glog.V(2).Infof("[session]<- ignore remote %s\n", ev.Name)
			continue
		}
		m.opts.Metrics.Inbound(ev.Name)
		glog.V(2).Infof("[session]<- %s\n", ev.Name)
		m.opts.Events.Emit(ev)
	}
}

// open publishes conn as the live transport unless gen was superseded.
func (m *Manager) open(gen uint64, conn transport.Conn) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	from := m.state
	m.state = StateConnected
	m.mu.Unlock()

	m.changed(from, StateConnected)
	return true
}

// release closes conn and, unless gen was superseded, marks the manager
// disconnected.
func (m *Manager) release(gen uint64, conn transport.Conn) {
	conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	m.changed(from, StateDisconnected)
}

func (m *Manager) transition(gen uint64, to State) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.state = to
	m.mu.Unlock()

	m.changed(from, to)
	return true
}

func (m *Manager) changed(from, to State) {
	if from == to {
		return
	}
	m.opts.Metrics.StateChanged(to.String(), to == StateConnected)
	glog.V(2).Infof("[session]%s -> %s\n", from, to)
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}

type discard struct{}

func (discard) Emit(protocol.Event) {}
