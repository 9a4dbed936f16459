// Package view holds the session state derived from inbound events.
package view

import (
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/omochice/chat-session/pkg/protocol"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Snapshot is a point-in-time copy of the view. Callers must not modify it.
type Snapshot struct {
	Connected   bool
	Messages    []protocol.ChatMessage
	LastMessage *protocol.ChatMessage
	Users       map[string]protocol.PresenceRecord
	TypingUsers []string
}

// UserList returns the roster ordered by username, then id.
func (s Snapshot) UserList() []protocol.PresenceRecord {
	out := make([]protocol.PresenceRecord, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Store applies inbound events to the view and notifies listeners.
// Reducers are called from a single goroutine; the lock only guards readers
// on other goroutines.
type Store struct {
	clock   func() time.Time
	entropy io.Reader

	mu        sync.RWMutex
	connected bool
	messages  []protocol.ChatMessage
	users     map[string]protocol.PresenceRecord
	typing    []string

	listenerMu sync.Mutex
	listeners  map[uint64]func()
	nextID     uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for system messages.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates an empty, disconnected view.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:     time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		users:     make(map[string]protocol.PresenceRecord),
		listeners: make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers listener, called after every change. The returned
// function unregisters it; calling it again does nothing.
func (s *Store) Subscribe(listener func()) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

// Snapshot returns the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make(map[string]protocol.PresenceRecord, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	snap := Snapshot{
		Connected: s.connected,
		// Entries are never modified and the sequence only grows, so a
		// capacity-capped reslice cannot be disturbed by later appends.
		Messages:    s.messages[:len(s.messages):len(s.messages)],
		Users:       users,
		TypingUsers: append([]string(nil), s.typing...),
	}
	if n := len(s.messages); n > 0 {
		last := s.messages[n-1]
		snap.LastMessage = &last
	}
	return snap
}

// Connected reports the connection flag.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// OnConnected flips the connection flag on.
func (s *Store) OnConnected() {
	s.setConnected(true)
}

// OnDisconnected flips the connection flag off. Messages, roster and typing
// state are kept.
func (s *Store) OnDisconnected() {
	s.setConnected(false)
}

// OnMessageReceived appends msg. Duplicates are kept.
func (s *Store) OnMessageReceived(msg protocol.ChatMessage) {
	s.appendMessage(msg)
}

// OnPrivateMessageReceived appends msg. Duplicates are kept.
func (s *Store) OnPrivateMessageReceived(msg protocol.ChatMessage) {
	s.appendMessage(msg)
}

// OnPresenceSnapshot replaces the roster.
func (s *Store) OnPresenceSnapshot(users []protocol.PresenceRecord) {
	roster := make(map[string]protocol.PresenceRecord, len(users))
	for _, u := range users {
		key := u.ID
		if key == "" {
			key = u.Username
		}
		roster[key] = u
	}

	s.mu.Lock()
	s.users = roster
	s.mu.Unlock()
	s.notify()
}

// OnUserJoined appends a system notice. The roster is left to user_list.
func (s *Store) OnUserJoined(user protocol.PresenceRecord) {
	s.appendSystem(user.Username + " joined the chat")
}

// OnUserLeft appends a system notice. The roster is left to user_list.
func (s *Store) OnUserLeft(user protocol.PresenceRecord) {
	s.appendSystem(user.Username + " left the chat")
}

// OnTypingSnapshot replaces the typing set.
func (s *Store) OnTypingSnapshot(ids []string) {
	seen := make(map[string]struct{}, len(ids))
	typing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		typing = append(typing, id)
	}

	s.mu.Lock()
	s.typing = typing
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) appendMessage(msg protocol.ChatMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) appendSystem(text string) {
	now := s.clock().UTC()

	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		id = ulid.Make()
	}
	s.messages = append(s.messages, protocol.ChatMessage{
		ID:        id.String(),
		Message:   text,
		Timestamp: now.Format(TimestampLayout),
		System:    true,
	})
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenerMu.Unlock()

	for _, l := range listeners {
		l()
	}
}
