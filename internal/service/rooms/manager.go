package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/transport"
)

// Manager tracks which conversation rooms this client has joined. Membership
// is dropped on disconnect and never restored implicitly.
type Manager struct {
	ch  transport.Channel
	log *zerolog.Logger

	mu     sync.Mutex
	joined map[string]bool

	unsubs []func()
}

// New builds a manager bound to ch.
func New(ch transport.Channel, logger *zerolog.Logger) *Manager {
	m := &Manager{
		ch:     ch,
		log:    logger,
		joined: make(map[string]bool),
	}
	m.unsubs = append(m.unsubs,
		transport.OnLifecycle(ch, nil, m.reset),
		ch.On(proto.EventJoinedConversation, m.onJoined),
	)
	return m
}

// Join enters the room of conversationID. Joining twice is a no-op.
func (m *Manager) Join(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if m.joined[conversationID] {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.ch.Emit(ctx, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: conversationID}); err != nil {
		return fmt.Errorf("join %s: %w", conversationID, err)
	}

	m.mu.Lock()
	m.joined[conversationID] = true
	m.mu.Unlock()

	m.log.Debug().Str("conversation_id", conversationID).Msg("joined room")
	return nil
}

// Leave exits the room. Leaving a room never joined is a no-op.
func (m *Manager) Leave(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if !m.joined[conversationID] {
		m.mu.Unlock()
		return nil
	}
	delete(m.joined, conversationID)
	m.mu.Unlock()

	if err := m.ch.Emit(ctx, proto.EventLeaveConversation, proto.ConversationRoomData{ConversationID: conversationID}); err != nil {
		return fmt.Errorf("leave %s: %w", conversationID, err)
	}
	m.log.Debug().Str("conversation_id", conversationID).Msg("left room")
	return nil
}

// Joined reports whether the room of conversationID is joined.
func (m *Manager) Joined(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined[conversationID]
}

// Rooms lists joined conversation ids, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.joined))
	for id := range m.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close detaches the manager from the channel.
func (m *Manager) Close() {
	for _, u := range m.unsubs {
		u()
	}
}

func (m *Manager) reset() {
	m.mu.Lock()
	n := len(m.joined)
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	if n > 0 {
		m.log.Info().Int("rooms", n).Msg("room membership cleared on disconnect")
	}
}

func (m *Manager) onJoined(data json.RawMessage) {
	var ack proto.ConversationRoomData
	if err := json.Unmarshal(data, &ack); err != nil {
		m.log.Warn().Err(err).Str("event", proto.EventJoinedConversation).Msg("decode event")
		return
	}
	m.log.Debug().Str("conversation_id", ack.ConversationID).Msg("room join acknowledged")
}
