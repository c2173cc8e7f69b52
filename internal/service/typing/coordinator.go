package typing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/transport"
)

// Default timings.
const (
	DefaultStopAfter  = 2 * time.Second
	DefaultClearAfter = 3 * time.Second
)

// Options tunes the coordinator. Zero durations fall back to the defaults.
type Options struct {
	LocalUserID string
	StopAfter   time.Duration
	ClearAfter  time.Duration
}

// timer is a cancellable handle. A fire whose generation is stale is ignored.
type timer struct {
	t   *time.Timer
	gen uint64
}

func (h *timer) stop() {
	h.gen++
	if h.t != nil {
		h.t.Stop()
		h.t = nil
	}
}

type localState struct {
	typing bool
	timer  timer
}

type remoteState struct {
	typing   bool
	userID   string
	userName string
	timer    timer
}

// Coordinator debounces local typing emission and decays remote typing state.
type Coordinator struct {
	ch   transport.Channel
	log  *zerolog.Logger
	opts Options

	mu        sync.Mutex
	local     map[string]*localState
	remote    map[string]*remoteState
	listeners map[int]func(core.TypingEvent)
	nextID    int

	unsubscribe func()
}

// New builds a coordinator bound to ch.
func New(ch transport.Channel, logger *zerolog.Logger, opts Options) *Coordinator {
	if opts.StopAfter <= 0 {
		opts.StopAfter = DefaultStopAfter
	}
	if opts.ClearAfter <= 0 {
		opts.ClearAfter = DefaultClearAfter
	}
	c := &Coordinator{
		ch:        ch,
		log:       logger,
		opts:      opts,
		local:     make(map[string]*localState),
		remote:    make(map[string]*remoteState),
		listeners: make(map[int]func(core.TypingEvent)),
	}
	c.unsubscribe = transport.OnTyping(ch, logger, c.Apply)
	return c
}

// EmitTyping sends the raw typing state for conversationID.
func (c *Coordinator) EmitTyping(ctx context.Context, conversationID string, isTyping bool) error {
	payload := proto.TypingData{
		ConversationID: conversationID,
		UserID:         c.opts.LocalUserID,
		IsTyping:       isTyping,
		Timestamp:      time.Now().UTC(),
	}
	if err := c.ch.Emit(ctx, proto.EventTyping, payload); err != nil {
		return fmt.Errorf("emit typing: %w", err)
	}
	return nil
}

// Input reacts to the local input box changing. Non-empty text emits true once
// per burst and restarts the inactivity timer; empty text stops typing.
func (c *Coordinator) Input(ctx context.Context, conversationID, text string) error {
	if strings.TrimSpace(text) == "" {
		return c.Stop(ctx, conversationID)
	}

	c.mu.Lock()
	st := c.localState(conversationID)
	start := !st.typing
	st.typing = true
	st.timer.stop()
	gen := st.timer.gen
	st.timer.t = time.AfterFunc(c.opts.StopAfter, func() { c.inactive(conversationID, gen) })
	c.mu.Unlock()

	if !start {
		return nil
	}
	return c.EmitTyping(ctx, conversationID, true)
}

// Stop ends the local typing burst. It emits false only if a burst was active.
func (c *Coordinator) Stop(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok || !st.typing {
		c.mu.Unlock()
		return nil
	}
	st.typing = false
	st.timer.stop()
	c.mu.Unlock()

	return c.EmitTyping(ctx, conversationID, false)
}

// Apply handles an inbound typing event. Events from the local user are ignored.
func (c *Coordinator) Apply(ev core.TypingEvent) {
	if ev.UserID != "" && ev.UserID == c.opts.LocalUserID {
		return
	}

	c.mu.Lock()
	st := c.remoteState(ev.ConversationID)
	changed := st.typing != ev.IsTyping
	st.typing = ev.IsTyping
	st.userID = ev.UserID
	st.userName = ev.UserName
	st.timer.stop()
	if ev.IsTyping {
		gen := st.timer.gen
		conversationID := ev.ConversationID
		st.timer.t = time.AfterFunc(c.opts.ClearAfter, func() { c.decay(conversationID, gen) })
	}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	if changed {
		notify(listeners, ev)
	}
}

// IsOtherTyping reports whether the counterpart is typing in conversationID.
func (c *Coordinator) IsOtherTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.remote[conversationID]
	return ok && st.typing
}

// TypingUser returns the name (or id) of whoever is typing in conversationID.
func (c *Coordinator) TypingUser(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.remote[conversationID]
	if !ok || !st.typing {
		return "", false
	}
	if st.userName != "" {
		return st.userName, true
	}
	return st.userID, true
}

// OnTyping registers fn for remote typing state changes, including auto-clears.
func (c *Coordinator) OnTyping(fn func(core.TypingEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Cancel drops every timer and all state for conversationID without emitting.
func (c *Coordinator) Cancel(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.local[conversationID]; ok {
		st.timer.stop()
		delete(c.local, conversationID)
	}
	if st, ok := c.remote[conversationID]; ok {
		st.timer.stop()
		delete(c.remote, conversationID)
	}
}

// Close cancels all timers and detaches from the channel.
func (c *Coordinator) Close() {
	c.unsubscribe()

	c.mu.Lock()
	ids := make([]string, 0, len(c.local)+len(c.remote))
	for id := range c.local {
		ids = append(ids, id)
	}
	for id := range c.remote {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Cancel(id)
	}
}

func (c *Coordinator) inactive(conversationID string, gen uint64) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok || st.timer.gen != gen || !st.typing {
		c.mu.Unlock()
		return
	}
	st.typing = false
	st.timer.t = nil
	c.mu.Unlock()

	if err := c.EmitTyping(context.Background(), conversationID, false); err != nil {
		c.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing stop not sent")
	}
}

func (c *Coordinator) decay(conversationID string, gen uint64) {
	c.mu.Lock()
	st, ok := c.remote[conversationID]
	if !ok || st.timer.gen != gen || !st.typing {
		c.mu.Unlock()
		return
	}
	st.typing = false
	st.timer.t = nil
	ev := core.TypingEvent{ConversationID: conversationID, UserID: st.userID, UserName: st.userName}
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	c.log.Debug().Str("conversation_id", conversationID).Msg("typing indicator expired")
	notify(listeners, ev)
}

func (c *Coordinator) localState(id string) *localState {
	st, ok := c.local[id]
	if !ok {
		st = &localState{}
		c.local[id] = st
	}
	return st
}

func (c *Coordinator) remoteState(id string) *remoteState {
	st, ok := c.remote[id]
	if !ok {
		st = &remoteState{}
		c.remote[id] = st
	}
	return st
}

// snapshotListeners must be called with c.mu held.
func (c *Coordinator) snapshotListeners() []func(core.TypingEvent) {
	out := make([]func(core.TypingEvent), 0, len(c.listeners))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(core.TypingEvent), ev core.TypingEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}
