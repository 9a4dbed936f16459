package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-session/pkg/protocol"
)

func TestDecodeChatMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    any
		want    protocol.ChatMessage
		wantErr bool
	}{
		{
			name: "full message",
			data: map[string]any{
				"id":        "m1",
				"senderId":  "u1",
				"username":  "alice",
				"message":   "hello",
				"timestamp": "2024-01-01T00:00:00.000Z",
				"system":    false,
			},
			want: protocol.ChatMessage{
				ID:        "m1",
				SenderID:  "u1",
				Username:  "alice",
				Message:   "hello",
				Timestamp: "2024-01-01T00:00:00.000Z",
			},
		},
		{
			name: "numeric id becomes a string",
			data: map[string]any{"id": float64(42), "message": "x"},
			want: protocol.ChatMessage{ID: "42", Message: "x"},
		},
		{
			name: "unknown fields are ignored",
			data: map[string]any{"id": "m2", "message": "x", "room": "lobby"},
			want: protocol.ChatMessage{ID: "m2", Message: "x"},
		},
		{
			name:    "nil payload",
			data:    nil,
			wantErr: true,
		},
		{
			name:    "not an object",
			data:    "hello",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.DecodeChatMessage(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeTypingUsers(t *testing.T) {
	users, err := protocol.DecodeTypingUsers([]any{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	users, err = protocol.DecodeTypingUsers(nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestDecodePresenceRecord(t *testing.T) {
	rec, err := protocol.DecodePresenceRecord(map[string]any{"id": "u9", "username": "bob"})
	require.NoError(t, err)
	assert.Equal(t, protocol.PresenceRecord{ID: "u9", Username: "bob"}, rec)

	_, err = protocol.DecodePresenceRecord(nil)
	assert.Error(t, err)
}

func TestDecodeOutboundPayloads(t *testing.T) {
	name, err := protocol.DecodeUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	pm, err := protocol.DecodePrivateMessage(map[string]any{"to": "u2", "message": "hey"})
	require.NoError(t, err)
	assert.Equal(t, protocol.PrivateMessagePayload{To: "u2", Message: "hey"}, pm)

	sm, err := protocol.DecodeSendMessage(map[string]any{"message": "yo"})
	require.NoError(t, err)
	assert.Equal(t, "yo", sm.Message)

	typing, err := protocol.DecodeTyping(true)
	require.NoError(t, err)
	assert.True(t, typing)
}
