// Package dispatch routes inbound events to the session view.
package dispatch

import (
	"sync"

	"github.com/golang/glog"

	"github.com/omochice/chat-session/pkg/protocol"
)

// Handler is called for every event emitted on its channel.
type Handler func(protocol.Event)

// Disposer removes one subscription. Only the first call has an effect.
type Disposer func()

// Bus is an in-memory publish/subscribe dispatcher keyed by event name.
// Handlers run synchronously on the goroutine that calls Emit.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[uint64]Handler
	nextID   uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		channels: make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers handler on the named channel.
func (b *Bus) Subscribe(name string, handler Handler) Disposer {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.channels[name] == nil {
		b.channels[name] = make(map[uint64]Handler)
	}
	b.channels[name][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.channels[name], id)
			if len(b.channels[name]) == 0 {
				delete(b.channels, name)
			}
		})
	}
}

// Emit delivers ev to every handler subscribed to ev.Name. A panicking
// handler is recovered so the remaining handlers still run.
func (b *Bus) Emit(ev protocol.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.channels[ev.Name]))
	for _, h := range b.channels[ev.Name] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("[bus]%s handler panic: %v", ev.Name, r)
				}
			}()
			h(ev)
		}()
	}
}

// Count returns the number of handlers on the named channel.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[name])
}

// Len returns the number of handlers across all channels.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, hs := range b.channels {
		n += len(hs)
	}
	return n
}
