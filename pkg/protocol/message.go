package protocol

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ChatMessage is one entry of the message timeline.
type ChatMessage struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId,omitempty"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	System    bool   `json:"system"`
	Private   bool   `json:"private,omitempty"`
}

// PresenceRecord is one connected user as reported by the server.
type PresenceRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// SendMessagePayload is the body of a send_message event.
type SendMessagePayload struct {
	Message string `json:"message"`
}

// PrivateMessagePayload is the body of an outbound private_message event.
type PrivateMessagePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (m ChatMessage) toMap() map[string]any {
	out := map[string]any{
		"id":        m.ID,
		"message":   m.Message,
		"timestamp": m.Timestamp,
		"system":    m.System,
	}
	if m.SenderID != "" {
		out["senderId"] = m.SenderID
	}
	if m.Username != "" {
		out["username"] = m.Username
	}
	if m.Private {
		out["private"] = true
	}
	return out
}

func (r PresenceRecord) toMap() map[string]any {
	return map[string]any{"id": r.ID, "username": r.Username}
}

func (p SendMessagePayload) toMap() map[string]any {
	return map[string]any{"message": p.Message}
}

func (p PrivateMessagePayload) toMap() map[string]any {
	return map[string]any{"to": p.To, "message": p.Message}
}

type mapper interface {
	toMap() map[string]any
}

// plain converts payload types into values structpb understands.
func plain(v any) any {
	switch t := v.(type) {
	case mapper:
		return t.toMap()
	case []PresenceRecord:
		out := make([]any, len(t))
		for i, r := range t {
			out[i] = r.toMap()
		}
		return out
	case []ChatMessage:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m.toMap()
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

// decode maps a plain decoded payload onto T using json tags.
// Input is weakly typed so numeric ids sent by the server land in string fields.
func decode[T any](data any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, errors.Wrap(err, "new decoder")
	}
	if err := dec.Decode(data); err != nil {
		return out, errors.Wrapf(err, "decode %T", out)
	}
	return out, nil
}

// DecodeChatMessage reads a receive_message or private_message payload.
func DecodeChatMessage(data any) (ChatMessage, error) {
	if data == nil {
		return ChatMessage{}, errors.New("empty chat message payload")
	}
	return decode[ChatMessage](data)
}

// DecodePresenceRecord reads a user_joined or user_left payload.
func DecodePresenceRecord(data any) (PresenceRecord, error) {
	if data == nil {
		return PresenceRecord{}, errors.New("empty presence payload")
	}
	return decode[PresenceRecord](data)
}

// DecodePresenceList reads a user_list payload. A null payload is an empty roster.
func DecodePresenceList(data any) ([]PresenceRecord, error) {
	return decode[[]PresenceRecord](data)
}

// DecodeTypingUsers reads a typing_users payload. A null payload is an empty set.
func DecodeTypingUsers(data any) ([]string, error) {
	return decode[[]string](data)
}

// DecodeUsername reads a user_join payload.
func DecodeUsername(data any) (string, error) {
	return decode[string](data)
}

// DecodeSendMessage reads a send_message payload.
func DecodeSendMessage(data any) (SendMessagePayload, error) {
	return decode[SendMessagePayload](data)
}

// DecodePrivateMessage reads an outbound private_message payload.
func DecodePrivateMessage(data any) (PrivateMessagePayload, error) {
	return decode[PrivateMessagePayload](data)
}

// DecodeTyping reads a typing payload.
func DecodeTyping(data any) (bool, error) {
	return decode[bool](data)
}
