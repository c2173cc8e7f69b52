package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// Lifecycle pseudo-events dispatched through the same registry as socket events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

// Channel is a persistent bidirectional connection shared by every component of
// a process. Handlers run sequentially in arrival order; filtering by
// conversation is the subscriber's job.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	On(event string, h Handler) (unsubscribe func())
	Emit(ctx context.Context, event string, payload any) error
	Connected() bool
}

type subscription struct {
	event string
	h     Handler
}

// registry keeps handlers per event in registration order.
type registry struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string][]*subscription)}
}

func (r *registry) add(event string, h Handler) func() {
	sub := &subscription{event: event, h: h}

	r.mu.Lock()
	r.subs[event] = append(r.subs[event], sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(sub) })
	}
}

func (r *registry) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[sub.event]
	for i, s := range list {
		if s == sub {
			r.subs[sub.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[sub.event]) == 0 {
		delete(r.subs, sub.event)
	}
}

// dispatch calls the handlers subscribed at call time, outside the lock so a
// handler may subscribe or unsubscribe.
func (r *registry) dispatch(event string, data json.RawMessage) int {
	r.mu.Lock()
	list := append([]*subscription(nil), r.subs[event]...)
	r.mu.Unlock()

	for _, s := range list {
		s.h(data)
	}
	return len(list)
}

func (r *registry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[event])
}
