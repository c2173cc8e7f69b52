package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vovakirdan/convosync/internal/core"
)

// Emitted is one frame written through a Local channel.
type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Local is an in-process Channel. Deliver plays the server side; Emitted
// records what components sent. Useful for tests and for embedding the core
// next to an in-process event source.
type Local struct {
	reg *registry

	mu        sync.Mutex
	connected bool
	emitted   []Emitted
}

// NewLocal builds a disconnected in-process channel.
func NewLocal() *Local {
	return &Local{reg: newRegistry()}
}

// Connect marks the channel up and dispatches the connect event.
func (l *Local) Connect(context.Context) error {
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return nil
	}
	l.connected = true
	l.mu.Unlock()

	l.reg.dispatch(EventConnect, nil)
	return nil
}

// Disconnect marks the channel down and dispatches the disconnect event.
func (l *Local) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	l.connected = false
	l.mu.Unlock()

	l.reg.dispatch(EventDisconnect, nil)
	return nil
}

// On subscribes h to event.
func (l *Local) On(event string, h Handler) func() {
	return l.reg.add(event, h)
}

// Emit records the frame, or fails while disconnected.
func (l *Local) Emit(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return core.Disconnected()
	}
	l.emitted = append(l.emitted, Emitted{Event: event, Data: data})
	return nil
}

// Connected reports whether the channel is up.
func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Deliver dispatches payload to the handlers of event as if it arrived from the
// server. Delivery is dropped while disconnected, like a real socket.
func (l *Local) Deliver(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !l.Connected() {
		return nil
	}
	l.reg.dispatch(event, data)
	return nil
}

// Emitted returns a copy of the frames emitted so far, optionally filtered by event.
func (l *Local) Emitted(event string) []Emitted {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Emitted
	for _, e := range l.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Subscribers reports how many handlers are registered for event.
func (l *Local) Subscribers(event string) int {
	return l.reg.count(event)
}
