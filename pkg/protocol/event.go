// Package protocol defines the named events exchanged with the relay server
// and the codecs that put them on the wire.
package protocol

// Inbound channel names. Connect and Disconnect carry no payload and are
// published locally by the connection manager when the transport opens or
// closes.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventReceiveMessage = "receive_message"
	EventPrivateMessage = "private_message"
	EventUserList       = "user_list"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventTypingUsers    = "typing_users"
)

// Outbound channel names. EventPrivateMessage is shared by both directions.
const (
	EventUserJoin    = "user_join"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// Event is a single named event with its payload.
// Data holds plain values (string, bool, float64, []any, map[string]any) once
// decoded, or any of the payload types of this package when built locally.
type Event struct {
	Name string
	Data any
}

// UserJoin announces the local identity.
func UserJoin(username string) Event {
	return Event{Name: EventUserJoin, Data: username}
}

// SendMessage publishes a message to everyone in the chat.
func SendMessage(text string) Event {
	return Event{Name: EventSendMessage, Data: SendMessagePayload{Message: text}}
}

// PrivateMessage addresses a single user by id.
func PrivateMessage(to, text string) Event {
	return Event{Name: EventPrivateMessage, Data: PrivateMessagePayload{To: to, Message: text}}
}

// Typing reports whether the local user is composing a message.
func Typing(isTyping bool) Event {
	return Event{Name: EventTyping, Data: isTyping}
}
