package messages

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/transport"
)

// Options configures a Service.
type Options struct {
	LocalUserID string
	Now         func() time.Time
}

// Service keeps one Synchronizer per conversation for the life of the process,
// so sends started in a view reconcile after the view is gone.
type Service struct {
	backend Backend
	ch      transport.Channel
	typing  TypingStopper
	log     *zerolog.Logger
	opts    Options
	tempIDs core.TempIDs

	mu      sync.Mutex
	syncs   map[string]*Synchronizer
	readers map[int]func(string)
	nextID  int

	unsubscribe func()
}

// NewService builds the registry. typing may be nil.
func NewService(backend Backend, ch transport.Channel, typing TypingStopper, logger *zerolog.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		backend: backend,
		ch:      ch,
		typing:  typing,
		log:     logger,
		opts:    opts,
		syncs:   make(map[string]*Synchronizer),
		readers: make(map[int]func(string)),
	}
	s.unsubscribe = transport.OnNewMessage(ch, logger, s.deliver)
	return s
}

// Get returns the synchronizer for conversationID, creating it on first use.
func (s *Service) Get(conversationID string) *Synchronizer {
	s.mu.Lock()
	defer s.mu.Unlock()

	sy, ok := s.syncs[conversationID]
	if !ok {
		sy = newSynchronizer(s, conversationID)
		s.syncs[conversationID] = sy
	}
	return sy
}

// Open attaches and loads conversationID. A redirect to a freshly started
// conversation is followed once; the returned synchronizer serves the real id.
func (s *Service) Open(ctx context.Context, conversationID string) (*Synchronizer, error) {
	sy := s.Get(conversationID)
	sy.Attach()

	err := sy.Load(ctx)
	var redirect *core.RedirectError
	if !errors.As(err, &redirect) {
		return sy, err
	}

	sy.Detach()
	s.forget(conversationID)

	target := s.Get(redirect.ConversationID)
	target.Attach()
	if err := target.Load(ctx); err != nil {
		if errors.As(err, &redirect) {
			target.Detach()
			return target, core.LoadFailed(err)
		}
		return target, err
	}
	return target, nil
}

// Close detaches the synchronizer of conversationID. Its state is kept.
func (s *Service) Close(conversationID string) {
	s.mu.Lock()
	sy, ok := s.syncs[conversationID]
	s.mu.Unlock()
	if ok {
		sy.Detach()
	}
}

// Attached lists conversations whose synchronizers receive events.
func (s *Service) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, sy := range s.syncs {
		if sy.Attached() {
			out = append(out, id)
		}
	}
	return out
}

// OnRead registers fn to be told about every successful mark-read.
func (s *Service) OnRead(fn func(conversationID string)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.readers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.readers, id)
		s.mu.Unlock()
	}
}

// Shutdown detaches every synchronizer and the service itself.
func (s *Service) Shutdown() {
	s.unsubscribe()

	s.mu.Lock()
	syncs := make([]*Synchronizer, 0, len(s.syncs))
	for _, sy := range s.syncs {
		syncs = append(syncs, sy)
	}
	s.mu.Unlock()

	for _, sy := range syncs {
		sy.Detach()
	}
}

func (s *Service) forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sy, ok := s.syncs[conversationID]; ok && len(sy.Snapshot().Messages) == 0 {
		delete(s.syncs, conversationID)
	}
}

func (s *Service) notifyRead(conversationID string) {
	s.mu.Lock()
	readers := make([]func(string), 0, len(s.readers))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.readers[i]; ok {
			readers = append(readers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range readers {
		fn(conversationID)
	}
}

// deliver acknowledges messages for conversations nobody has open. Attached
// synchronizers acknowledge their own.
func (s *Service) deliver(ev core.NewMessageEvent) {
	if ev.SenderID == s.opts.LocalUserID || ev.Message.Type == core.MessageTypeSystem {
		return
	}

	s.mu.Lock()
	sy, ok := s.syncs[ev.ConversationID]
	s.mu.Unlock()
	if ok && sy.Attached() {
		return
	}

	ack := proto.MessageAckData{MessageID: ev.Message.ID, ConversationID: ev.ConversationID}
	if err := s.ch.Emit(context.Background(), proto.EventMessageDelivered, ack); err != nil {
		s.log.Debug().Err(err).Str("message_id", ev.Message.ID).Msg("delivery ack not sent")
	}
}
