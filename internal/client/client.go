// Package client is the command surface of a chat session: it wires the
// connection manager, the event dispatcher and the session view together
// and exposes them to a UI layer.
package client

import (
	"github.com/omochice/chat-session/internal/session"
	"github.com/omochice/chat-session/internal/view"
	"github.com/omochice/chat-session/pkg/protocol"
)

// Session is what a UI layer needs from a chat session.
// Commands never block on the network and never return an error: a command
// issued while disconnected is dropped.
type Session interface {
	Connect(username string)
	Disconnect()
	SendMessage(text string)
	SendPrivateMessage(to, text string)
	SetTyping(isTyping bool)

	IsConnected() bool
	State() session.State
	LastMessage() (protocol.ChatMessage, bool)
	Messages() []protocol.ChatMessage
	Users() map[string]protocol.PresenceRecord
	TypingUsers() []string
	Snapshot() view.Snapshot
	Subscribe(listener func()) func()
}

var _ Session = (*Client)(nil)
