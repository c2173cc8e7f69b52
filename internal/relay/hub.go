package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/store"
)

// Store is the persistence the hub needs for room checks and acks.
type Store interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	AdvanceMessageStatus(ctx context.Context, messageID, receiverID, status string, at time.Time) (store.Message, bool, error)
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

type publication struct {
	rooms []string
	event *Event
}

// Hub owns rooms and socket clients. All room state is confined to the Run
// goroutine; presence is readable from any goroutine.
type Hub struct {
	store Store
	log   *zerolog.Logger
	now   func() time.Time

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	publish    chan publication
	done       chan struct{}
	stopOnce   sync.Once

	clients map[*Client]struct{}
	rooms   map[string]*Room

	mu       sync.RWMutex
	online   map[string]int
	lastSeen map[string]time.Time
}

// NewHub creates a hub. A nil store disables room checks and acks.
func NewHub(st Store, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		store:      st,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		publish:    make(chan publication, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		online:     make(map[string]int),
		lastSeen:   make(map[string]time.Time),
	}
}

// Run processes registrations, commands and publications until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.pump(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case cc := <-h.commands:
			if _, ok := h.clients[cc.client]; ok {
				h.handle(ctx, cc.client, cc.cmd)
			}
		case p := <-h.publish:
			h.fanout(p.rooms, p.event, nil)
		}
	}
}

// RegisterClient adds c to the hub and starts consuming its commands.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes c from every room and closes its Events channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish delivers ev once to every client in any of rooms.
func (h *Hub) Publish(rooms []string, ev *Event) {
	select {
	case h.publish <- publication{rooms: rooms, event: ev}:
	case <-h.done:
	}
}

// IsOnline reports whether userID has at least one authenticated socket.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// LastSeen returns when userID's last socket went away.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	at, ok := h.lastSeen[userID]
	return at, ok
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.quit:
				return
			case <-h.done:
				return
			}
		case <-c.quit:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	for name := range c.rooms {
		h.leave(c, name)
	}
	delete(h.clients, c)
	close(c.quit)
	close(c.Events)

	if c.userID == "" {
		return
	}
	h.mu.Lock()
	h.online[c.userID]--
	last := h.online[c.userID] <= 0
	at := h.now()
	if last {
		delete(h.online, c.userID)
		h.lastSeen[c.userID] = at
	}
	h.mu.Unlock()

	if last {
		h.broadcastAll(&Event{Name: proto.EventUserOnlineStatus, Data: proto.UserOnlineStatusData{
			UserID:    c.userID,
			IsOnline:  false,
			LastSeen:  &at,
			Timestamp: at,
		}}, nil)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.userID).Msg("client unregistered")
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	if cmd.Kind != CommandAuthenticate && c.userID == "" {
		c.send(errorEvent(ErrCodeUnauthorized, "authenticate first"))
		return
	}

	switch cmd.Kind {
	case CommandAuthenticate:
		h.authenticate(c, cmd)
	case CommandJoinRoom:
		h.join(ctx, c, cmd.Room)
	case CommandLeaveRoom:
		if _, ok := c.rooms[cmd.Room]; !ok {
			c.send(errorEvent(ErrCodeNotInRoom, "not in room "+cmd.Room))
			return
		}
		h.leave(c, cmd.Room)
	case CommandTyping:
		h.typing(c, cmd)
	case CommandAck:
		h.ack(ctx, c, cmd)
	default:
		c.send(errorEvent(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) authenticate(c *Client, cmd *Command) {
	if cmd.UserID == "" {
		c.send(&Event{Name: proto.EventAuthenticated, Data: proto.AuthenticatedData{Success: false}})
		return
	}
	if c.userID != "" {
		if c.userID != cmd.UserID {
			c.send(errorEvent(ErrCodeForbidden, "socket already bound to another user"))
			return
		}
		c.send(&Event{Name: proto.EventAuthenticated, Data: proto.AuthenticatedData{UserID: c.userID, Success: true}})
		return
	}

	c.userID = cmd.UserID
	c.name = cmd.Name
	h.enter(c, PersonalRoom(c.userID))

	h.mu.Lock()
	h.online[c.userID]++
	first := h.online[c.userID] == 1
	h.mu.Unlock()

	c.send(&Event{Name: proto.EventAuthenticated, Data: proto.AuthenticatedData{UserID: c.userID, Success: true}})
	if first {
		h.broadcastAll(&Event{Name: proto.EventUserOnlineStatus, Data: proto.UserOnlineStatusData{
			UserID:    c.userID,
			IsOnline:  true,
			Timestamp: h.now(),
		}}, c)
	}
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.userID).Msg("client authenticated")
}

func (h *Hub) join(ctx context.Context, c *Client, room string) {
	if room == "" || strings.HasPrefix(room, PersonalRoom("")) {
		c.send(errorEvent(ErrCodeBadRequest, "invalid conversation id"))
		return
	}
	if h.store != nil {
		conv, err := h.store.GetConversation(ctx, room)
		if errors.Is(err, store.ErrNotFound) {
			c.send(errorEvent(ErrCodeRoomNotFound, "conversation not found"))
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("conversation_id", room).Msg("load conversation for join")
			c.send(errorEvent(ErrCodeInternal, "internal error"))
			return
		}
		if !conv.HasParticipant(c.userID) {
			c.send(errorEvent(ErrCodeForbidden, "not a participant"))
			return
		}
	}

	h.enter(c, room)
	c.send(&Event{Name: proto.EventJoinedConversation, Data: proto.ConversationRoomData{ConversationID: room}})
}

func (h *Hub) enter(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	room.AddClient(c)
	c.rooms[name] = struct{}{}
}

func (h *Hub) leave(c *Client, name string) {
	delete(c.rooms, name)
	room, ok := h.rooms[name]
	if !ok {
		return
	}
	room.RemoveClient(c)
	if room.Empty() {
		delete(h.rooms, name)
	}
}

func (h *Hub) typing(c *Client, cmd *Command) {
	room, ok := h.rooms[cmd.Room]
	if !ok || !room.Has(c) {
		c.send(errorEvent(ErrCodeNotInRoom, "not in room "+cmd.Room))
		return
	}
	h.fanout([]string{cmd.Room}, &Event{Name: proto.EventTyping, Data: proto.TypingData{
		ConversationID: cmd.Room,
		UserID:         c.userID,
		UserName:       c.name,
		IsTyping:       cmd.IsTyping,
		Timestamp:      h.now(),
	}}, c)
}

func (h *Hub) ack(ctx context.Context, c *Client, cmd *Command) {
	if h.store == nil {
		return
	}
	if cmd.MessageID == "" {
		c.send(errorEvent(ErrCodeBadRequest, "message_id is required"))
		return
	}

	msg, changed, err := h.store.AdvanceMessageStatus(ctx, cmd.MessageID, c.userID, cmd.Status, h.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.send(errorEvent(ErrCodeMessageNotFound, "message not found"))
		return
	case errors.Is(err, store.ErrNotParticipant):
		c.send(errorEvent(ErrCodeForbidden, "only the receiver can acknowledge a message"))
		return
	case err != nil:
		h.log.Error().Err(err).Str("message_id", cmd.MessageID).Msg("advance message status")
		c.send(errorEvent(ErrCodeInternal, "internal error"))
		return
	}
	if !changed {
		return
	}

	h.fanout(StatusRooms(msg), &Event{Name: proto.EventMessageStatus, Data: StatusData(msg)}, nil)
}

// StatusRooms lists the rooms a status change of msg is published to.
func StatusRooms(msg store.Message) []string {
	return []string{msg.ConversationID, PersonalRoom(msg.SenderID)}
}

// StatusData is the message_status payload for msg's current status.
func StatusData(msg store.Message) proto.MessageStatusData {
	at := msg.CreatedAt
	switch {
	case msg.SeenAt != nil:
		at = *msg.SeenAt
	case msg.DeliveredAt != nil:
		at = *msg.DeliveredAt
	}
	return proto.MessageStatusData{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Status:         msg.Status,
		UpdatedAt:      at,
	}
}

// fanout sends ev once to every client in any of rooms, skipping except.
func (h *Hub) fanout(rooms []string, ev *Event, except *Client) {
	seen := make(map[*Client]struct{})
	for _, name := range rooms {
		room, ok := h.rooms[name]
		if !ok {
			continue
		}
		for c := range room.clients {
			if c == except {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			h.deliver(c, ev)
		}
	}
}

func (h *Hub) broadcastAll(ev *Event, except *Client) {
	for c := range h.clients {
		if c != except && c.userID != "" {
			h.deliver(c, ev)
		}
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	if !c.send(ev) {
		h.log.Warn().Str("client_id", c.ID).Str("event", ev.Name).Msg("dropping event for slow client")
	}
}
