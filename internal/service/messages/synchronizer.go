package messages

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/observability"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/transport"
)

// State is the load state of one conversation.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "uninitialized"
	}
}

// Backend is the REST collaborator the synchronizer needs.
type Backend interface {
	ConversationDetail(ctx context.Context, conversationID string) (api.ConversationDetail, error)
	StartConversation(ctx context.Context, counterpartID, initialMessage string) (core.Conversation, error)
	SendMessage(ctx context.Context, req api.SendRequest) (core.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// TypingStopper ends the local typing burst after a send.
type TypingStopper interface {
	Stop(ctx context.Context, conversationID string) error
}

// Snapshot is an immutable copy of a synchronizer's state.
type Snapshot struct {
	ConversationID string
	State          State
	Err            error
	Conversation   core.Conversation
	Booking        *core.BookingReference
	Messages       []core.Message
	Draft          string
	Pending        int
}

// Synchronizer owns the message list of one conversation. It merges history,
// optimistic sends, pushed messages and status transitions into one ordered
// list with unique ids.
type Synchronizer struct {
	id      string
	local   string
	backend Backend
	ch      transport.Channel
	typing  TypingStopper
	tempIDs *core.TempIDs
	now     func() time.Time
	onRead  func(conversationID string)
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	err       error
	loadGen   uint64
	conv      core.Conversation
	booking   *core.BookingReference
	messages  []core.Message
	index     map[string]int
	pending   map[string]struct{}
	early     map[string]core.MessageStatus
	draft     string
	loaded    bool
	attached  bool
	unsubs    []func()
	listeners map[int]func(Snapshot)
	nextID    int
}

func newSynchronizer(svc *Service, conversationID string) *Synchronizer {
	return &Synchronizer{
		id:        conversationID,
		local:     svc.opts.LocalUserID,
		backend:   svc.backend,
		ch:        svc.ch,
		typing:    svc.typing,
		tempIDs:   &svc.tempIDs,
		now:       svc.opts.Now,
		onRead:    svc.notifyRead,
		log:       svc.log.With().Str("conversation_id", conversationID).Logger(),
		index:     make(map[string]int),
		pending:   make(map[string]struct{}),
		early:     make(map[string]core.MessageStatus),
		listeners: make(map[int]func(Snapshot)),
	}
}

// ConversationID returns the id this synchronizer serves.
func (s *Synchronizer) ConversationID() string {
	return s.id
}

// Load fetches history and merges it with local entries. An unknown id is
// treated as a counterpart user id: a conversation is started with them and
// a *core.RedirectError names the real conversation.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	s.state = StateLoading
	s.err = nil
	s.mu.Unlock()
	s.emitChange()

	detail, err := s.backend.ConversationDetail(ctx, s.id)
	if errors.Is(err, core.ErrNotFound) {
		return s.redirect(ctx, gen, err)
	}
	if err != nil {
		return s.fail(gen, core.LoadFailed(err))
	}

	s.mu.Lock()
	if gen != s.loadGen {
		s.mu.Unlock()
		return nil
	}
	s.merge(detail)
	s.loaded = true
	s.state = StateReady
	s.mu.Unlock()

	observability.IncLoad("ok")
	s.log.Debug().Int("messages", len(detail.Messages)).Msg("conversation loaded")
	s.emitChange()

	if err := s.MarkRead(ctx); err != nil {
		s.log.Debug().Err(err).Msg("mark read after load")
	}
	return nil
}

// Retry re-enters Loading after a failure.
func (s *Synchronizer) Retry(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Synchronizer) redirect(ctx context.Context, gen uint64, cause error) error {
	conv, err := s.backend.StartConversation(ctx, s.id, "")
	if err != nil {
		return s.fail(gen, core.LoadFailed(errors.Join(cause, err)))
	}

	s.mu.Lock()
	if gen == s.loadGen {
		s.state = StateUninitialized
	}
	s.mu.Unlock()
	s.emitChange()

	s.log.Info().Str("redirect_to", conv.ID).Msg("started conversation with counterpart")
	return &core.RedirectError{From: s.id, ConversationID: conv.ID}
}

func (s *Synchronizer) fail(gen uint64, err error) error {
	s.mu.Lock()
	if gen == s.loadGen {
		s.state = StateError
		s.err = err
	}
	s.mu.Unlock()

	observability.IncLoad("failed")
	s.log.Warn().Err(err).Msg("load conversation")
	s.emitChange()
	return err
}

// merge must be called with s.mu held. History comes first, then entries that
// are still pending, then pushed entries newer than the history tail.
func (s *Synchronizer) merge(detail api.ConversationDetail) {
	merged := make([]core.Message, 0, len(detail.Messages)+len(s.messages))
	index := make(map[string]int, len(detail.Messages))

	var tail time.Time
	for _, raw := range detail.Messages {
		msg := raw.Tag(s.local)
		if _, dup := index[msg.ID]; dup {
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = s.id
		}
		msg = s.applyEarly(msg)
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
		if msg.CreatedAt.After(tail) {
			tail = msg.CreatedAt
		}
	}

	for _, msg := range s.messages {
		if _, dup := index[msg.ID]; dup {
			continue
		}
		_, inFlight := s.pending[msg.ID]
		if !inFlight && !msg.CreatedAt.After(tail) {
			continue
		}
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
	}

	s.messages = merged
	s.index = index
	s.conv = detail.Conversation
	s.booking = detail.Booking
}

// Send appends an optimistic entry, persists it and reconciles the entry in
// place. On failure the entry is removed and the content restored as draft.
func (s *Synchronizer) Send(ctx context.Context, content string) (core.Message, error) {
	if strings.TrimSpace(content) == "" {
		return core.Message{}, core.EmptyMessage()
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return core.Message{}, core.NotReady(s.id)
	}
	receiver, _ := s.conv.Counterpart(s.local)
	now := s.now()
	tempID := s.tempIDs.Next(now)
	optimistic := core.Message{
		ID:             tempID,
		ConversationID: s.id,
		SenderID:       s.local,
		ReceiverID:     receiver.UserID,
		Content:        content,
		Type:           core.MessageTypeText,
		Status:         core.StatusSent,
		Sender:         core.SenderSelf,
		CreatedAt:      now,
	}
	s.index[tempID] = len(s.messages)
	s.messages = append(s.messages, optimistic)
	s.pending[tempID] = struct{}{}
	s.draft = ""
	s.mu.Unlock()
	s.emitChange()

	if s.typing != nil {
		if err := s.typing.Stop(ctx, s.id); err != nil {
			s.log.Debug().Err(err).Msg("typing stop on send")
		}
	}

	saved, err := s.backend.SendMessage(ctx, api.SendRequest{
		ConversationID: s.id,
		ReceiverID:     receiver.UserID,
		Type:           core.MessageTypeText,
		Content:        content,
	})
	if err != nil {
		s.rollback(tempID, content)
		observability.IncSend("failed")
		s.log.Warn().Err(err).Str("message_id", tempID).Msg("send failed")
		return core.Message{}, core.SendFailed(err)
	}

	msg := s.reconcile(tempID, saved)
	observability.IncSend("ok")
	s.log.Debug().Str("message_id", msg.ID).Str("temp_id", tempID).Msg("message sent")
	return msg, nil
}

func (s *Synchronizer) rollback(tempID, content string) {
	s.mu.Lock()
	delete(s.pending, tempID)
	if pos, ok := s.index[tempID]; ok {
		s.removeAt(pos)
	}
	s.draft = content
	s.mu.Unlock()
	s.emitChange()
}

// reconcile replaces the temporary entry with the persisted message. If the
// persisted id already arrived through a push, the pushed duplicate is dropped
// and the higher status of the two is kept.
func (s *Synchronizer) reconcile(tempID string, saved core.Message) core.Message {
	s.mu.Lock()
	delete(s.pending, tempID)

	pos, ok := s.index[tempID]
	if !ok {
		s.mu.Unlock()
		return saved.Tag(s.local)
	}
	current := s.messages[pos]

	msg := saved
	if msg.ConversationID == "" {
		msg.ConversationID = s.id
	}
	if msg.SenderID == "" {
		msg.SenderID = current.SenderID
	}
	if msg.ReceiverID == "" {
		msg.ReceiverID = current.ReceiverID
	}
	if msg.Content == "" {
		msg.Content = current.Content
	}
	if msg.Type == "" {
		msg.Type = current.Type
	}
	if msg.Status == "" {
		msg.Status = core.StatusSent
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = current.CreatedAt
	}
	msg = msg.Tag(s.local)

	if dupPos, dup := s.index[msg.ID]; dup && dupPos != pos {
		msg.Status = higher(msg.Status, s.messages[dupPos].Status)
		s.removeAt(dupPos)
		pos = s.index[tempID]
	}
	msg = s.applyEarly(msg)

	delete(s.index, tempID)
	s.messages[pos] = msg
	s.index[msg.ID] = pos
	s.mu.Unlock()

	s.emitChange()
	return msg
}

// OnInboundMessage appends a pushed message unless its id is already present.
func (s *Synchronizer) OnInboundMessage(ev core.NewMessageEvent) {
	if ev.ConversationID != s.id {
		return
	}
	msg := ev.Message.Tag(s.local)
	if msg.ConversationID == "" {
		msg.ConversationID = s.id
	}

	s.mu.Lock()
	if _, dup := s.index[msg.ID]; dup {
		s.mu.Unlock()
		return
	}
	msg = s.applyEarly(msg)
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	attached := s.attached
	s.mu.Unlock()
	s.emitChange()

	if msg.Sender != core.SenderOther {
		return
	}
	s.acknowledge(msg, attached)
	if attached {
		go func() {
			if err := s.MarkRead(context.Background()); err != nil {
				s.log.Debug().Err(err).Msg("mark read on inbound")
			}
		}()
	}
}

func (s *Synchronizer) acknowledge(msg core.Message, seen bool) {
	event := proto.EventMessageDelivered
	if seen {
		event = proto.EventMessageSeen
	}
	ack := proto.MessageAckData{MessageID: msg.ID, ConversationID: s.id}
	if err := s.ch.Emit(context.Background(), event, ack); err != nil {
		s.log.Debug().Err(err).Str("message_id", msg.ID).Str("event", event).Msg("ack not sent")
	}
}

// OnStatusChange applies a status transition. Statuses only move forward.
// "all" targets every non-system message; unknown ids are remembered until the
// message shows up.
func (s *Synchronizer) OnStatusChange(ev core.StatusEvent) {
	if ev.ConversationID != s.id || !ev.Status.Valid() {
		return
	}

	s.mu.Lock()
	changed := false
	if ev.TargetsAll() {
		for i := range s.messages {
			if s.messages[i].Type == core.MessageTypeSystem {
				continue
			}
			if ev.Status.Rank() > s.messages[i].Status.Rank() {
				s.messages[i].Status = ev.Status
				changed = true
			}
		}
	} else if pos, ok := s.index[ev.MessageID]; ok {
		msg := &s.messages[pos]
		if msg.Type != core.MessageTypeSystem && ev.Status.Rank() > msg.Status.Rank() {
			msg.Status = ev.Status
			changed = true
		}
	} else {
		s.early[ev.MessageID] = higher(s.early[ev.MessageID], ev.Status)
	}
	s.mu.Unlock()

	if changed {
		s.emitChange()
	}
}

// MarkRead tells the backend the conversation was read and notifies read
// observers on success.
func (s *Synchronizer) MarkRead(ctx context.Context) error {
	if err := s.backend.MarkRead(ctx, s.id); err != nil {
		return err
	}
	if s.onRead != nil {
		s.onRead(s.id)
	}
	return nil
}

// Attach subscribes to pushed messages and status events for this conversation.
func (s *Synchronizer) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return
	}
	s.attached = true
	s.unsubs = []func(){
		transport.OnNewMessage(s.ch, &s.log, s.OnInboundMessage),
		transport.OnMessageStatus(s.ch, &s.log, s.OnStatusChange),
	}
}

// Detach stops event handling. In-flight sends still reconcile.
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.attached = false
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

// Attached reports whether the synchronizer is receiving events.
func (s *Synchronizer) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Draft returns the current input text.
func (s *Synchronizer) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft replaces the input text.
func (s *Synchronizer) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// State returns the load state and the last load error.
func (s *Synchronizer) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Snapshot copies the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnChange registers fn to receive a snapshot after every change.
func (s *Synchronizer) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{
		ConversationID: s.id,
		State:          s.state,
		Err:            s.err,
		Conversation:   s.conv.Clone(),
		Messages:       append([]core.Message(nil), s.messages...),
		Draft:          s.draft,
		Pending:        len(s.pending),
	}
	if s.booking != nil {
		b := *s.booking
		snap.Booking = &b
	}
	return snap
}

func (s *Synchronizer) emitChange() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// removeAt must be called with s.mu held.
func (s *Synchronizer) removeAt(pos int) {
	delete(s.index, s.messages[pos].ID)
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}

// applyEarly must be called with s.mu held.
func (s *Synchronizer) applyEarly(msg core.Message) core.Message {
	st, ok := s.early[msg.ID]
	if !ok {
		return msg
	}
	delete(s.early, msg.ID)
	if msg.Type != core.MessageTypeSystem {
		msg.Status = higher(msg.Status, st)
	}
	return msg
}

func higher(a, b core.MessageStatus) core.MessageStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
