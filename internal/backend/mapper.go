package backend

import (
	"context"
	"time"

	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/relay"
	"github.com/vovakirdan/convosync/internal/store"
)

func messageData(m store.Message, senderName string) proto.MessageData {
	return proto.MessageData{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		MessageType:    m.Type,
		Content:        m.Content,
		Status:         m.Status,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		SeenAt:         m.SeenAt,
		SenderName:     senderName,
	}
}

// newMessageData fills both the nested and the flat shape of new_message.
func newMessageData(m store.Message, senderName string) proto.NewMessageData {
	nested := messageData(m, senderName)
	return proto.NewMessageData{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.Type,
		CreatedAt:      m.CreatedAt,
		Timestamp:      m.CreatedAt,
		Message:        &nested,
	}
}

// userCache resolves users at most once per request.
type userCache struct {
	store store.UserStore
	users map[string]store.User
}

func newUserCache(st store.UserStore) *userCache {
	return &userCache{store: st, users: make(map[string]store.User)}
}

func (u *userCache) get(ctx context.Context, id string) store.User {
	if user, ok := u.users[id]; ok {
		return user
	}
	user, err := u.store.GetUser(ctx, id)
	if err != nil {
		user = store.User{ID: id}
	}
	u.users[id] = user
	return user
}

type presence interface {
	IsOnline(userID string) bool
	LastSeen(userID string) (time.Time, bool)
}

func participantData(user store.User, role string, online presence) proto.ParticipantData {
	p := proto.ParticipantData{
		UserID:   user.ID,
		Role:     role,
		Name:     user.Name,
		IsOnline: online.IsOnline(user.ID),
	}
	if at, ok := online.LastSeen(user.ID); ok && !p.IsOnline {
		p.LastSeen = &at
	}
	return p
}

func conversationData(ctx context.Context, conv store.Conversation, unread int, last *store.Message, users *userCache, online presence) proto.ConversationData {
	data := proto.ConversationData{
		ID:             conv.ID,
		UserID:         conv.UserID,
		ProfessionalID: conv.ProfessionalID,
		BookingID:      conv.BookingID,
		Status:         conv.Status,
		UnreadCount:    unread,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		Participants: []proto.ParticipantData{
			participantData(users.get(ctx, conv.UserID), "user", online),
			participantData(users.get(ctx, conv.ProfessionalID), "professional", online),
		},
	}
	if conv.BookingID != "" {
		data.BookingReference = &proto.BookingData{BookingID: conv.BookingID}
	}
	if last != nil {
		at := last.CreatedAt
		data.LastMessageID = last.ID
		data.LastMessageContent = last.Content
		data.LastMessageType = last.Type
		data.LastMessageSenderID = last.SenderID
		data.LastMessageStatus = last.Status
		data.LastMessageAt = &at
	}
	return data
}

var _ Publisher = (*relay.Hub)(nil)
