package dispatch

import (
	"sync"

	"github.com/golang/glog"

	"github.com/omochice/chat-session/pkg/protocol"
)

// Reducer receives decoded inbound events. The session view implements it.
type Reducer interface {
	OnConnected()
	OnDisconnected()
	OnMessageReceived(msg protocol.ChatMessage)
	OnPrivateMessageReceived(msg protocol.ChatMessage)
	OnPresenceSnapshot(users []protocol.PresenceRecord)
	OnUserJoined(user protocol.PresenceRecord)
	OnUserLeft(user protocol.PresenceRecord)
	OnTypingSnapshot(ids []string)
}

// Channels lists the inbound channels the dispatcher subscribes to.
var Channels = []string{
	protocol.EventConnect,
	protocol.EventDisconnect,
	protocol.EventReceiveMessage,
	protocol.EventPrivateMessage,
	protocol.EventUserList,
	protocol.EventUserJoined,
	protocol.EventUserLeft,
	protocol.EventTypingUsers,
}

// Dispatcher binds the fixed channel table of a session to a Reducer.
type Dispatcher struct {
	bus     *Bus
	reducer Reducer

	mu        sync.Mutex
	disposers []Disposer
}

// New creates a detached Dispatcher.
func New(bus *Bus, reducer Reducer) *Dispatcher {
	return &Dispatcher{bus: bus, reducer: reducer}
}

// Attach subscribes every route. Attaching an attached dispatcher first
// tears the old subscriptions down, so each event is handled once.
func (d *Dispatcher) Attach() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.detachLocked()
	routes := d.routes()
	for _, name := range Channels {
		d.disposers = append(d.disposers, d.bus.Subscribe(name, routes[name]))
	}
}

// Detach removes every subscription made by Attach. Safe to call twice.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detachLocked()
}

// Attached reports whether routes are currently subscribed.
func (d *Dispatcher) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.disposers) > 0
}

func (d *Dispatcher) detachLocked() {
	for _, dispose := range d.disposers {
		dispose()
	}
	d.disposers = nil
}

// routes maps each channel to the handler reading only that channel's payload.
func (d *Dispatcher) routes() map[string]Handler {
	r := d.reducer
	return map[string]Handler{
		protocol.EventConnect: func(protocol.Event) {
			r.OnConnected()
		},
		protocol.EventDisconnect: func(protocol.Event) {
			r.OnDisconnected()
		},
		protocol.EventReceiveMessage: func(ev protocol.Event) {
			msg, err := protocol.DecodeChatMessage(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnMessageReceived(msg)
		},
		protocol.EventPrivateMessage: func(ev protocol.Event) {
			msg, err := protocol.DecodeChatMessage(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnPrivateMessageReceived(msg)
		},
		protocol.EventUserList: func(ev protocol.Event) {
			users, err := protocol.DecodePresenceList(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnPresenceSnapshot(users)
		},
		protocol.EventUserJoined: func(ev protocol.Event) {
			user, err := protocol.DecodePresenceRecord(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnUserJoined(user)
		},
		protocol.EventUserLeft: func(ev protocol.Event) {
			user, err := protocol.DecodePresenceRecord(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnUserLeft(user)
		},
		protocol.EventTypingUsers: func(ev protocol.Event) {
			ids, err := protocol.DecodeTypingUsers(ev.Data)
			if err != nil {
				dropped(ev, err)
				return
			}
			r.OnTypingSnapshot(ids)
		},
	}
}

func dropped(ev protocol.Event, err error) {
	glog.Infof("[dispatch]drop malformed %s: %v", ev.Name, err)
}
