package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-session/internal/dispatch"
	"github.com/omochice/chat-session/pkg/protocol"
)

// recorder is a Reducer that remembers which callbacks fired.
type recorder struct {
	calls    []string
	messages []protocol.ChatMessage
	users    []protocol.PresenceRecord
	typing   []string
}

func (r *recorder) OnConnected()    { r.calls = append(r.calls, "connected") }
func (r *recorder) OnDisconnected() { r.calls = append(r.calls, "disconnected") }
func (r *recorder) OnMessageReceived(msg protocol.ChatMessage) {
	r.calls = append(r.calls, "message")
	r.messages = append(r.messages, msg)
}
func (r *recorder) OnPrivateMessageReceived(msg protocol.ChatMessage) {
	r.calls = append(r.calls, "private")
	r.messages = append(r.messages, msg)
}
func (r *recorder) OnPresenceSnapshot(users []protocol.PresenceRecord) {
	r.calls = append(r.calls, "user_list")
	r.users = users
}
func (r *recorder) OnUserJoined(protocol.PresenceRecord) { r.calls = append(r.calls, "joined") }
func (r *recorder) OnUserLeft(protocol.PresenceRecord)   { r.calls = append(r.calls, "left") }
func (r *recorder) OnTypingSnapshot(ids []string) {
	r.calls = append(r.calls, "typing")
	r.typing = ids
}

func TestBus_DisposerRunsOnce(t *testing.T) {
	bus := dispatch.NewBus()
	fired := 0
	dispose := bus.Subscribe("x", func(protocol.Event) { fired++ })
	other := bus.Subscribe("x", func(protocol.Event) {})

	bus.Emit(protocol.Event{Name: "x"})
	assert.Equal(t, 1, fired)

	dispose()
	dispose()
	assert.Equal(t, 1, bus.Count("x"), "second dispose must not remove another handler")

	bus.Emit(protocol.Event{Name: "x"})
	assert.Equal(t, 1, fired)

	other()
	assert.Equal(t, 0, bus.Len())
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := dispatch.NewBus()
	fired := false
	bus.Subscribe("x", func(protocol.Event) { panic("boom") })
	bus.Subscribe("x", func(protocol.Event) { fired = true })

	assert.NotPanics(t, func() { bus.Emit(protocol.Event{Name: "x"}) })
	assert.True(t, fired)
}

func TestDispatcher_RoutesEachChannelOnce(t *testing.T) {
	bus := dispatch.NewBus()
	rec := &recorder{}
	d := dispatch.New(bus, rec)
	d.Attach()

	bus.Emit(protocol.Event{Name: protocol.EventConnect})
	bus.Emit(protocol.Event{Name: protocol.EventReceiveMessage, Data: map[string]any{"id": "1", "message": "hi"}})
	bus.Emit(protocol.Event{Name: protocol.EventPrivateMessage, Data: map[string]any{"id": "2", "message": "psst"}})
	bus.Emit(protocol.Event{Name: protocol.EventUserList, Data: []any{map[string]any{"id": "u1", "username": "alice"}}})
	bus.Emit(protocol.Event{Name: protocol.EventUserJoined, Data: map[string]any{"id": "u2", "username": "bob"}})
	bus.Emit(protocol.Event{Name: protocol.EventUserLeft, Data: map[string]any{"id": "u2", "username": "bob"}})
	bus.Emit(protocol.Event{Name: protocol.EventTypingUsers, Data: []any{"u1"}})
	bus.Emit(protocol.Event{Name: protocol.EventDisconnect})

	assert.Equal(t, []string{
		"connected", "message", "private", "user_list", "joined", "left", "typing", "disconnected",
	}, rec.calls)
	assert.Equal(t, []protocol.PresenceRecord{{ID: "u1", Username: "alice"}}, rec.users)
	assert.Equal(t, []string{"u1"}, rec.typing)
}

func TestDispatcher_DetachLeavesNoHandlers(t *testing.T) {
	bus := dispatch.NewBus()
	rec := &recorder{}
	d := dispatch.New(bus, rec)

	d.Attach()
	require.Equal(t, len(dispatch.Channels), bus.Len())
	d.Detach()
	d.Detach()

	assert.Equal(t, 0, bus.Len())
	assert.False(t, d.Attached())

	bus.Emit(protocol.Event{Name: protocol.EventReceiveMessage, Data: map[string]any{"id": "1", "message": "hi"}})
	bus.Emit(protocol.Event{Name: protocol.EventConnect})
	assert.Empty(t, rec.calls)
}

func TestDispatcher_ReattachDoesNotDuplicate(t *testing.T) {
	bus := dispatch.NewBus()
	rec := &recorder{}
	d := dispatch.New(bus, rec)

	d.Attach()
	d.Attach()
	d.Attach()
	assert.Equal(t, len(dispatch.Channels), bus.Len())

	bus.Emit(protocol.Event{Name: protocol.EventReceiveMessage, Data: map[string]any{"id": "1", "message": "hi"}})
	assert.Len(t, rec.messages, 1)
}

func TestDispatcher_DropsMalformedPayload(t *testing.T) {
	bus := dispatch.NewBus()
	rec := &recorder{}
	dispatch.New(bus, rec).Attach()

	bus.Emit(protocol.Event{Name: protocol.EventReceiveMessage, Data: "not a message"})
	bus.Emit(protocol.Event{Name: protocol.EventUserJoined})
	bus.Emit(protocol.Event{Name: protocol.EventUserList, Data: "everyone"})

	assert.Empty(t, rec.calls)
}
