// Package relay is a small in-memory chat server speaking the session wire
// protocol. It backs the relay command and end-to-end tests.
package relay

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/omochice/chat-session/internal/transport"
	"github.com/omochice/chat-session/pkg/protocol"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Client is one connected socket.
type Client struct {
	ID       string
	Conn     transport.Conn
	Outgoing chan []byte

	// username is set by user_join; until then the socket is not listed.
	username string
}

// Hub keeps the roster and the typing set and fans events out to clients.
// Every transport shares a single Hub.
type Hub struct {
	codec protocol.Codec
	clock func() time.Time

	mu      sync.RWMutex
	clients map[*Client]bool
	typing  map[string]bool
	entropy io.Reader
}

// NewHub creates an empty Hub that encodes frames with codec.
func NewHub(codec protocol.Codec) *Hub {
	return &Hub{
		codec:   codec,
		clock:   time.Now,
		clients: make(map[*Client]bool),
		typing:  make(map[string]bool),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Codec returns the frame codec.
func (h *Hub) Codec() protocol.Codec {
	return h.codec
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes client, closes its outgoing queue and tells the room.
// Calling it for an unknown client does nothing.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.Outgoing)
	wasTyping := h.typing[client.ID]
	delete(h.typing, client.ID)
	h.mu.Unlock()

	if client.username == "" {
		return
	}
	h.broadcast(protocol.Event{Name: protocol.EventUserLeft, Data: client.record()}, nil)
	h.broadcast(protocol.Event{Name: protocol.EventUserList, Data: h.roster()}, nil)
	if wasTyping {
		h.broadcast(protocol.Event{Name: protocol.EventTypingUsers, Data: h.typingIDs()}, nil)
	}
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleClient reads frames from client until its connection fails or ctx
// ends, then unregisters it.
func (h *Hub) HandleClient(ctx context.Context, client *Client) {
	defer h.Unregister(client)
	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			glog.V(2).Infof("[relay]%s read = %v\n", client.ID, err)
			return
		}
		ev, err := h.codec.Decode(data)
		if err != nil {
			glog.Infof("[relay]%s decode error = %v\n", client.ID, err)
			continue
		}
		h.handle(client, ev)
	}
}

func (h *Hub) handle(client *Client, ev protocol.Event) {
	glog.V(2).Infof("[relay]%s -> %s\n", client.ID, ev.Name)
	switch ev.Name {
	case protocol.EventUserJoin:
		username, err := protocol.DecodeUsername(ev.Data)
		if err != nil || username == "" {
			glog.Infof("[relay]%s bad user_join = %v\n", client.ID, err)
			return
		}
		h.mu.Lock()
		client.username = username
		h.mu.Unlock()
		h.broadcast(protocol.Event{Name: protocol.EventUserJoined, Data: client.record()}, client)
		h.broadcast(protocol.Event{Name: protocol.EventUserList, Data: h.roster()}, nil)

	case protocol.EventSendMessage:
		p, err := protocol.DecodeSendMessage(ev.Data)
		if err != nil {
			glog.Infof("[relay]%s bad send_message = %v\n", client.ID, err)
			return
		}
		h.broadcast(protocol.Event{Name: protocol.EventReceiveMessage, Data: h.message(client, p.Message, false)}, nil)

	case protocol.EventPrivateMessage:
		p, err := protocol.DecodePrivateMessage(ev.Data)
		if err != nil {
			glog.Infof("[relay]%s bad private_message = %v\n", client.ID, err)
			return
		}
		target := h.find(p.To)
		if target == nil {
			glog.V(2).Infof("[relay]%s private_message to unknown %s\n", client.ID, p.To)
			return
		}
		out := protocol.Event{Name: protocol.EventPrivateMessage, Data: h.message(client, p.Message, true)}
		h.sendTo(target, out)
		if target != client {
			h.sendTo(client, out)
		}

	case protocol.EventTyping:
		typing, err := protocol.DecodeTyping(ev.Data)
		if err != nil {
			glog.Infof("[relay]%s bad typing = %v\n", client.ID, err)
			return
		}
		h.mu.Lock()
		changed := h.typing[client.ID] != typing
		if typing {
			h.typing[client.ID] = true
		} else {
			delete(h.typing, client.ID)
		}
		h.mu.Unlock()
		if changed {
			h.broadcast(protocol.Event{Name: protocol.EventTypingUsers, Data: h.typingIDs()}, nil)
		}

	default:
		glog.V(2).Infof("[relay]%s unknown event %s\n", client.ID, ev.Name)
	}
}

func (h *Hub) message(from *Client, text string, private bool) protocol.ChatMessage {
	now := h.clock().UTC()
	h.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), h.entropy)
	username := from.username
	h.mu.Unlock()
	if err != nil {
		id = ulid.Make()
	}
	return protocol.ChatMessage{
		ID:        id.String(),
		SenderID:  from.ID,
		Username:  username,
		Message:   text,
		Timestamp: now.Format(timestampLayout),
		Private:   private,
	}
}

func (h *Hub) find(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// roster lists joined clients ordered by username, then id.
func (h *Hub) roster() []protocol.PresenceRecord {
	h.mu.RLock()
	out := make([]protocol.PresenceRecord, 0, len(h.clients))
	for c := range h.clients {
		if c.username != "" {
			out = append(out, c.record())
		}
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (h *Hub) typingIDs() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.typing))
	for id := range h.typing {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// broadcast queues ev for every client except skip.
func (h *Hub) broadcast(ev protocol.Event, skip *Client) {
	data, err := h.codec.Encode(ev)
	if err != nil {
		glog.Infof("[relay]encode %s error = %v\n", ev.Name, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c != skip {
			enqueue(c, data)
		}
	}
}

func (h *Hub) sendTo(client *Client, ev protocol.Event) {
	data, err := h.codec.Encode(ev)
	if err != nil {
		glog.Infof("[relay]encode %s error = %v\n", ev.Name, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[client] {
		enqueue(client, data)
	}
}

// enqueue must be called with the hub lock held so Unregister cannot close
// the queue underneath it.
func enqueue(client *Client, data []byte) {
	select {
	case client.Outgoing <- data:
	default:
		glog.Infof("[relay]%s outgoing queue full, frame dropped\n", client.ID)
	}
}

func (c *Client) record() protocol.PresenceRecord {
	return protocol.PresenceRecord{ID: c.ID, Username: c.username}
}
