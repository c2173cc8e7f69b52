package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/mocks"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/transport"
)

func conversation(id string, unread int) core.Conversation {
	return core.Conversation{
		ID: id,
		Participants: []core.Participant{
			{UserID: "me", Role: core.RoleUser},
			{UserID: "pro", Role: core.RoleProfessional, Name: "Ana"},
		},
		UnreadCount: unread,
		LastMessage: &core.LastMessage{Content: "hello", SenderID: "pro", At: time.Now().Add(-time.Hour)},
	}
}

func newClient(t *testing.T, backend *mocks.BackendMock) (*Client, *transport.Local) {
	t.Helper()

	ch := transport.NewLocal()
	logger := zerolog.Nop()
	c := New(ch, backend, &logger, Options{
		LocalUserID: "me",
		TypingStop:  30 * time.Millisecond,
		TypingClear: 30 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, ch
}

func TestOpenConversationJoinsLoadsAndResetsUnread(t *testing.T) {
	backend := &mocks.BackendMock{}
	backend.On("Conversations", mock.Anything, api.Filter{}).
		Return(api.ConversationPage{Conversations: []core.Conversation{conversation("c1", 3)}}, nil)
	backend.On("ConversationDetail", mock.Anything, "c1").
		Return(api.ConversationDetail{Conversation: conversation("c1", 3)}, nil)
	var reads atomic.Int32
	backend.On("MarkRead", mock.Anything, "c1").Run(func(mock.Arguments) { reads.Add(1) }).Return(nil)

	c, ch := newClient(t, backend)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 3, c.Conversations.UnreadTotal())

	sy, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", sy.ConversationID())
	assert.True(t, c.Rooms.Joined("c1"))
	assert.Len(t, ch.Emitted(proto.EventJoinConversation), 1)
	assert.Equal(t, 0, c.Conversations.UnreadTotal())

	_ = ch.Deliver(proto.EventNewMessage, proto.NewMessageData{ConversationID: "c1", MessageID: "m1", SenderID: "pro", Content: "hi"})
	require.Eventually(t, func() bool { return reads.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Conversations.UnreadTotal())

	c.CloseConversation(context.Background(), "c1")
	assert.False(t, c.Rooms.Joined("c1"))
	assert.False(t, sy.Attached())

	_ = ch.Deliver(proto.EventNewMessage, proto.NewMessageData{ConversationID: "c1", MessageID: "m2", SenderID: "pro", Content: "again"})
	assert.Equal(t, 1, c.Conversations.UnreadTotal())
	assert.Len(t, ch.Emitted(proto.EventMessageDelivered), 1)
}

func TestInputAndSendDriveTyping(t *testing.T) {
	backend := &mocks.BackendMock{}
	backend.On("Conversations", mock.Anything, api.Filter{}).Return(api.ConversationPage{}, nil)
	backend.On("ConversationDetail", mock.Anything, "c1").Return(api.ConversationDetail{Conversation: conversation("c1", 0)}, nil)
	backend.On("MarkRead", mock.Anything, "c1").Return(nil)
	backend.On("SendMessage", mock.Anything, mock.Anything).Return(core.Message{ID: "srv1", Status: core.StatusSent}, nil)

	c, ch := newClient(t, backend)
	require.NoError(t, c.Start(context.Background()))
	_, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)

	require.NoError(t, c.Input(context.Background(), "c1", "On my"))
	require.NoError(t, c.Input(context.Background(), "c1", "On my way"))
	assert.Equal(t, "On my way", c.Messages.Get("c1").Draft())

	msg, err := c.Send(context.Background(), "c1", "On my way")
	require.NoError(t, err)
	assert.Equal(t, "srv1", msg.ID)
	assert.Equal(t, "", c.Messages.Get("c1").Draft())

	typing := ch.Emitted(proto.EventTyping)
	require.Len(t, typing, 2)
	assert.Contains(t, string(typing[0].Data), `"is_typing":true`)
	assert.Contains(t, string(typing[1].Data), `"is_typing":false`)
}

func TestReconnectRejoinsAndReloads(t *testing.T) {
	backend := &mocks.BackendMock{}
	backend.On("Conversations", mock.Anything, api.Filter{}).Return(api.ConversationPage{}, nil)
	var loads atomic.Int32
	backend.On("ConversationDetail", mock.Anything, "c1").
		Run(func(mock.Arguments) { loads.Add(1) }).
		Return(api.ConversationDetail{Conversation: conversation("c1", 0)}, nil)
	backend.On("MarkRead", mock.Anything, "c1").Return(nil)

	c, ch := newClient(t, backend)
	require.NoError(t, c.Start(context.Background()))
	_, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)

	require.NoError(t, ch.Disconnect())
	assert.False(t, c.Rooms.Joined("c1"))
	assert.False(t, c.Connected())

	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.Rooms.Joined("c1") }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return loads.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Len(t, ch.Emitted(proto.EventJoinConversation), 2)
}

func TestClosingBackgroundConversationKeepsActiveView(t *testing.T) {
	backend := &mocks.BackendMock{}
	backend.On("Conversations", mock.Anything, api.Filter{}).
		Return(api.ConversationPage{Conversations: []core.Conversation{conversation("c1", 0), conversation("c2", 0)}}, nil)
	backend.On("ConversationDetail", mock.Anything, "c1").Return(api.ConversationDetail{Conversation: conversation("c1", 0)}, nil)
	backend.On("ConversationDetail", mock.Anything, "c2").Return(api.ConversationDetail{Conversation: conversation("c2", 0)}, nil)
	backend.On("MarkRead", mock.Anything, mock.Anything).Return(nil)

	c, ch := newClient(t, backend)
	require.NoError(t, c.Start(context.Background()))
	_, err := c.OpenConversation(context.Background(), "c1")
	require.NoError(t, err)
	_, err = c.OpenConversation(context.Background(), "c2")
	require.NoError(t, err)
	require.Equal(t, "c2", c.Conversations.Active())

	c.CloseConversation(context.Background(), "c1")
	assert.Equal(t, "c2", c.Conversations.Active())

	_ = ch.Deliver(proto.EventNewMessage, proto.NewMessageData{ConversationID: "c2", MessageID: "m1", SenderID: "pro", Content: "still here"})
	assert.Equal(t, 0, c.Conversations.UnreadTotal())

	c.CloseConversation(context.Background(), "c2")
	assert.Equal(t, "", c.Conversations.Active())
}
