package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/service/conversations"
	"github.com/vovakirdan/convosync/internal/service/messages"
	"github.com/vovakirdan/convosync/internal/service/presence"
	"github.com/vovakirdan/convosync/internal/service/rooms"
	"github.com/vovakirdan/convosync/internal/service/typing"
	"github.com/vovakirdan/convosync/internal/transport"
)

const reloadTimeout = 15 * time.Second

// Backend is every REST operation the components need.
type Backend interface {
	messages.Backend
	conversations.Backend
}

// Options configures a Client.
type Options struct {
	LocalUserID string
	TypingStop  time.Duration
	TypingClear time.Duration
	Now         func() time.Time
}

// Client wires the synchronization components over one shared channel and
// owns the lifecycle of open conversation views.
type Client struct {
	ch  transport.Channel
	log *zerolog.Logger

	Presence      *presence.Tracker
	Rooms         *rooms.Manager
	Typing        *typing.Coordinator
	Messages      *messages.Service
	Conversations *conversations.Aggregator

	mu       sync.Mutex
	open     map[string]bool
	connects int
	unsubs   []func()
}

// New builds a client. The channel is shared and must not be connected yet
// by anyone else; Start connects it.
func New(ch transport.Channel, backend Backend, logger *zerolog.Logger, opts Options) *Client {
	c := &Client{
		ch:   ch,
		log:  logger,
		open: make(map[string]bool),
	}

	c.Presence = presence.New(ch, logger)
	c.Rooms = rooms.New(ch, logger)
	c.Typing = typing.New(ch, logger, typing.Options{
		LocalUserID: opts.LocalUserID,
		StopAfter:   opts.TypingStop,
		ClearAfter:  opts.TypingClear,
	})
	c.Messages = messages.NewService(backend, ch, c.Typing, logger, messages.Options{
		LocalUserID: opts.LocalUserID,
		Now:         opts.Now,
	})
	c.Conversations = conversations.New(backend, ch, logger, opts.LocalUserID)
	c.Conversations.Attach()

	c.unsubs = append(c.unsubs,
		c.Messages.OnRead(c.Conversations.MarkRead),
		c.Presence.OnUserOnlineStatus(c.Conversations.ApplyPresence),
		transport.OnLifecycle(ch, c.onConnect, nil),
	)
	return c
}

// Start connects the channel and loads the conversation list.
func (c *Client) Start(ctx context.Context) error {
	if err := c.ch.Connect(ctx); err != nil {
		return err
	}
	return c.Conversations.Refresh(ctx, api.Filter{})
}

// OpenConversation mounts a conversation view: join the room, load history and
// mark the conversation active. The returned synchronizer may serve a
// different id when conversationID named a counterpart user.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) (*messages.Synchronizer, error) {
	if err := c.Rooms.Join(ctx, conversationID); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("join room")
	}

	sy, err := c.Messages.Open(ctx, conversationID)
	id := sy.ConversationID()
	if id != conversationID {
		_ = c.Rooms.Leave(ctx, conversationID)
		if joinErr := c.Rooms.Join(ctx, id); joinErr != nil {
			c.log.Warn().Err(joinErr).Str("conversation_id", id).Msg("join room")
		}
	}

	c.mu.Lock()
	c.open[id] = true
	c.mu.Unlock()
	c.Conversations.SetActive(id)

	return sy, err
}

// CloseConversation unmounts a view. Typing timers are cancelled and events
// unsubscribed; sends in flight still reconcile.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) {
	if err := c.Typing.Stop(ctx, conversationID); err != nil {
		c.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing stop on close")
	}
	c.Typing.Cancel(conversationID)
	c.Messages.Close(conversationID)
	if err := c.Rooms.Leave(ctx, conversationID); err != nil {
		c.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("leave room")
	}

	c.mu.Lock()
	delete(c.open, conversationID)
	c.mu.Unlock()
	c.Conversations.Deactivate(conversationID)
}

// Input records the draft and drives local typing state.
func (c *Client) Input(ctx context.Context, conversationID, text string) error {
	c.Messages.Get(conversationID).SetDraft(text)
	return c.Typing.Input(ctx, conversationID, text)
}

// Send sends content optimistically in conversationID.
func (c *Client) Send(ctx context.Context, conversationID, content string) (core.Message, error) {
	return c.Messages.Get(conversationID).Send(ctx, content)
}

// Connected reports the transport state.
func (c *Client) Connected() bool {
	return c.ch.Connected()
}

// Close tears every component down and disconnects the channel.
func (c *Client) Close() error {
	for _, u := range c.unsubs {
		u()
	}
	c.Messages.Shutdown()
	c.Conversations.Close()
	c.Typing.Close()
	c.Rooms.Close()
	c.Presence.Close()
	return c.ch.Disconnect()
}

// onConnect restores what a disconnect lost: room membership of open views,
// their history and the conversation list.
func (c *Client) onConnect() {
	c.mu.Lock()
	c.connects++
	reconnect := c.connects > 1
	ids := make([]string, 0, len(c.open))
	for id := range c.open {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	if !reconnect && len(ids) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()

		for _, id := range ids {
			if err := c.Rooms.Join(ctx, id); err != nil {
				c.log.Warn().Err(err).Str("conversation_id", id).Msg("rejoin room")
			}
			if err := c.Messages.Get(id).Load(ctx); err != nil {
				c.log.Warn().Err(err).Str("conversation_id", id).Msg("reload history")
			}
		}
		if err := c.Conversations.Refresh(ctx, api.Filter{}); err != nil {
			c.log.Warn().Err(err).Msg("reload conversation list")
		}
		c.log.Info().Int("rooms", len(ids)).Msg("state restored after reconnect")
	}()
}
