package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/core"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ConversationDetail(ctx context.Context, conversationID string) (api.ConversationDetail, error) {
	args := m.Called(ctx, conversationID)
	var detail api.ConversationDetail
	if val := args.Get(0); val != nil {
		detail = val.(api.ConversationDetail)
	}
	return detail, args.Error(1)
}

func (m *BackendMock) StartConversation(ctx context.Context, counterpartID, initialMessage string) (core.Conversation, error) {
	args := m.Called(ctx, counterpartID, initialMessage)
	var conv core.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(core.Conversation)
	}
	return conv, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, req api.SendRequest) (core.Message, error) {
	args := m.Called(ctx, req)
	var msg core.Message
	if val := args.Get(0); val != nil {
		msg = val.(core.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) MarkRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *BackendMock) Conversations(ctx context.Context, filter api.Filter) (api.ConversationPage, error) {
	args := m.Called(ctx, filter)
	var page api.ConversationPage
	if val := args.Get(0); val != nil {
		page = val.(api.ConversationPage)
	}
	return page, args.Error(1)
}

func (m *BackendMock) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
