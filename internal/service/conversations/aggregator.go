package conversations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/transport"
)

const (
	refetchTimeout = 10 * time.Second
	// recentPerConversation bounds the ids remembered for re-delivery checks.
	recentPerConversation = 32
)

// Backend lists conversations.
type Backend interface {
	Conversations(ctx context.Context, filter api.Filter) (api.ConversationPage, error)
}

// Filter narrows List locally.
type Filter struct {
	Status core.ConversationStatus
	Search string
}

// Aggregator keeps the conversation summaries in most-recent-first order as
// events arrive. It never touches message bodies.
type Aggregator struct {
	backend Backend
	ch      transport.Channel
	log     *zerolog.Logger
	local   string

	mu         sync.Mutex
	list       []core.Conversation
	recent     map[string][]string
	active     string
	filter     api.Filter
	refetching bool
	listeners  map[int]func([]core.Conversation)
	nextID     int
	unsubs     []func()
}

// New builds an aggregator for localUserID. Call Attach to follow the channel.
func New(backend Backend, ch transport.Channel, logger *zerolog.Logger, localUserID string) *Aggregator {
	return &Aggregator{
		backend:   backend,
		ch:        ch,
		log:       logger,
		local:     localUserID,
		recent:    make(map[string][]string),
		listeners: make(map[int]func([]core.Conversation)),
	}
}

// Attach subscribes to pushed messages and status events.
func (a *Aggregator) Attach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubs != nil {
		return
	}
	a.unsubs = []func(){
		transport.OnNewMessage(a.ch, a.log, a.OnInboundMessage),
		transport.OnMessageStatus(a.ch, a.log, a.OnStatusChange),
	}
}

// Close unsubscribes from the channel.
func (a *Aggregator) Close() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// Refresh replaces the list with a full fetch ordered by last activity.
func (a *Aggregator) Refresh(ctx context.Context, filter api.Filter) error {
	page, err := a.backend.Conversations(ctx, filter)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}

	list := make([]core.Conversation, 0, len(page.Conversations))
	for _, c := range page.Conversations {
		list = append(list, c.Clone())
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivity().After(list[j].LastActivity())
	})

	recent := make(map[string][]string, len(list))
	for _, c := range list {
		if c.LastMessage != nil && c.LastMessage.ID != "" {
			recent[c.ID] = []string{c.LastMessage.ID}
		}
	}

	a.mu.Lock()
	a.list = list
	a.recent = recent
	a.filter = filter
	a.mu.Unlock()

	a.log.Debug().Int("conversations", len(list)).Msg("conversation list refreshed")
	a.notify()
	return nil
}

// List returns the summaries matching f, most recent first.
func (a *Aggregator) List(f Filter) []core.Conversation {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]core.Conversation, 0, len(a.list))
	for _, c := range a.list {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if search != "" && !a.matches(c, search) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out
}

func (a *Aggregator) matches(c core.Conversation, search string) bool {
	if other, ok := c.Counterpart(a.local); ok && strings.Contains(strings.ToLower(other.Name), search) {
		return true
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), search)
}

// Get returns the summary of conversationID.
func (a *Aggregator) Get(conversationID string) (core.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.find(conversationID); i >= 0 {
		return a.list[i].Clone(), true
	}
	return core.Conversation{}, false
}

// OnInboundMessage moves the conversation to the front and updates its last
// message. Unread grows only for other senders while the conversation is not
// active. A re-delivered message id is ignored. Unknown conversations
// trigger a background refetch.
func (a *Aggregator) OnInboundMessage(ev core.NewMessageEvent) {
	a.mu.Lock()
	i := a.find(ev.ConversationID)
	if i < 0 {
		a.mu.Unlock()
		a.refetch()
		return
	}
	if !a.remember(ev.ConversationID, ev.Message.ID) {
		a.mu.Unlock()
		return
	}

	conv := a.list[i]
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	conv.LastMessage = &core.LastMessage{
		ID:       ev.Message.ID,
		Content:  ev.Message.Content,
		Type:     ev.Message.Type,
		SenderID: ev.SenderID,
		Status:   ev.Message.Status,
		At:       at,
	}
	conv.UpdatedAt = at
	if ev.SenderID != a.local && ev.ConversationID != a.active {
		conv.UnreadCount++
	}

	copy(a.list[1:i+1], a.list[:i])
	a.list[0] = conv
	a.mu.Unlock()

	a.notify()
}

// OnStatusChange advances the last message status when the event covers it.
func (a *Aggregator) OnStatusChange(ev core.StatusEvent) {
	a.mu.Lock()
	i := a.find(ev.ConversationID)
	if i < 0 {
		a.mu.Unlock()
		return
	}
	lm := a.list[i].LastMessage
	if lm == nil {
		a.mu.Unlock()
		return
	}
	covers := ev.TargetsAll() || (lm.ID != "" && lm.ID == ev.MessageID)
	if !covers || lm.Type == core.MessageTypeSystem || ev.Status.Rank() <= lm.Status.Rank() {
		a.mu.Unlock()
		return
	}
	updated := *lm
	updated.Status = ev.Status
	a.list[i].LastMessage = &updated
	a.mu.Unlock()

	a.notify()
}

// MarkRead zeroes the unread count of conversationID.
func (a *Aggregator) MarkRead(conversationID string) {
	a.mu.Lock()
	i := a.find(conversationID)
	if i < 0 || a.list[i].UnreadCount == 0 {
		a.mu.Unlock()
		return
	}
	a.list[i].UnreadCount = 0
	a.mu.Unlock()

	a.notify()
}

// SetActive records the conversation currently open; "" means none.
func (a *Aggregator) SetActive(conversationID string) {
	a.mu.Lock()
	a.active = conversationID
	a.mu.Unlock()
}

// Deactivate clears the active conversation if it is conversationID.
func (a *Aggregator) Deactivate(conversationID string) {
	a.mu.Lock()
	if a.active == conversationID {
		a.active = ""
	}
	a.mu.Unlock()
}

// Active returns the conversation currently open.
func (a *Aggregator) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// UnreadTotal sums unread counts.
func (a *Aggregator) UnreadTotal() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, c := range a.list {
		total += c.UnreadCount
	}
	return total
}

// ApplyPresence updates the online flag of matching participants.
func (a *Aggregator) ApplyPresence(ev core.PresenceEvent) {
	a.mu.Lock()
	changed := false
	for i := range a.list {
		for j := range a.list[i].Participants {
			p := &a.list[i].Participants[j]
			if p.UserID != ev.UserID {
				continue
			}
			if p.IsOnline != ev.IsOnline {
				changed = true
			}
			p.IsOnline = ev.IsOnline
			if !ev.IsOnline && !ev.At.IsZero() {
				p.LastSeen = ev.At
			}
		}
	}
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

// OnChange registers fn to receive the full list after every change.
func (a *Aggregator) OnChange(fn func([]core.Conversation)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) refetch() {
	a.mu.Lock()
	if a.refetching {
		a.mu.Unlock()
		return
	}
	a.refetching = true
	filter := a.filter
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()

		if err := a.Refresh(ctx, filter); err != nil {
			a.log.Warn().Err(err).Msg("reconcile conversation list")
		}
		a.mu.Lock()
		a.refetching = false
		a.mu.Unlock()
	}()
}

// remember records id as seen in conversationID and reports whether it was
// new. Empty ids are always new. Must be called with a.mu held.
func (a *Aggregator) remember(conversationID, id string) bool {
	if id == "" {
		return true
	}
	ids := a.recent[conversationID]
	for _, seen := range ids {
		if seen == id {
			return false
		}
	}
	ids = append(ids, id)
	if len(ids) > recentPerConversation {
		ids = ids[len(ids)-recentPerConversation:]
	}
	a.recent[conversationID] = ids
	return true
}

// find must be called with a.mu held.
func (a *Aggregator) find(conversationID string) int {
	for i, c := range a.list {
		if c.ID == conversationID {
			return i
		}
	}
	return -1
}

func (a *Aggregator) notify() {
	a.mu.Lock()
	if len(a.listeners) == 0 {
		a.mu.Unlock()
		return
	}
	list := make([]core.Conversation, 0, len(a.list))
	for _, c := range a.list {
		list = append(list, c.Clone())
	}
	listeners := make([]func([]core.Conversation), 0, len(a.listeners))
	for i := 0; i < a.nextID; i++ {
		if fn, ok := a.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(list)
	}
}
