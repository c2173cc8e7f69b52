package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/transport"
)

type entry struct {
	online bool
	at     time.Time
}

// Tracker keeps best-effort online state per user, fed by user_online_status
// events. Users it never heard about are offline.
type Tracker struct {
	log *zerolog.Logger

	mu        sync.Mutex
	entries   map[string]entry
	listeners map[int]func(core.PresenceEvent)
	nextID    int

	unsubscribe func()
}

// New builds a tracker subscribed to ch. A nil ch gives a tracker fed only by Apply.
func New(ch transport.Channel, logger *zerolog.Logger) *Tracker {
	t := &Tracker{
		log:       logger,
		entries:   make(map[string]entry),
		listeners: make(map[int]func(core.PresenceEvent)),
	}
	if ch != nil {
		t.unsubscribe = transport.OnUserOnlineStatus(ch, logger, t.Apply)
	}
	return t
}

// Apply records ev, overwriting whatever was known, and notifies listeners.
func (t *Tracker) Apply(ev core.PresenceEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	t.mu.Lock()
	t.entries[ev.UserID] = entry{online: ev.IsOnline, at: ev.At}
	listeners := make([]func(core.PresenceEvent), 0, len(t.listeners))
	for _, id := range sortedKeys(t.listeners) {
		listeners = append(listeners, t.listeners[id])
	}
	t.mu.Unlock()

	t.log.Debug().Str("user_id", ev.UserID).Bool("online", ev.IsOnline).Msg("presence")
	for _, fn := range listeners {
		fn(ev)
	}
}

// IsUserOnline reports the last known state of userID.
func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[userID].online
}

// LastSeen returns when the last event for userID arrived, and whether any did.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	return e.at, ok
}

// Online returns the ids currently believed online, sorted.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for id, e := range t.entries {
		if e.online {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// OnUserOnlineStatus registers fn for every applied event.
func (t *Tracker) OnUserOnlineStatus(fn func(core.PresenceEvent)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Close detaches the tracker from its channel.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

func sortedKeys(m map[int]func(core.PresenceEvent)) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
