package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a participant")
)

// User is an account known to the backend. Users are created on token issue.
type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// Conversation is a thread between a customer and a professional.
type Conversation struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	ProfessionalID string    `db:"professional_id"`
	BookingID      string    `db:"booking_id"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Counterpart returns the participant that is not userID.
func (c Conversation) Counterpart(userID string) string {
	if c.UserID == userID {
		return c.ProfessionalID
	}
	return c.UserID
}

// HasParticipant reports whether userID is one of the two sides.
func (c Conversation) HasParticipant(userID string) bool {
	return c.UserID == userID || c.ProfessionalID == userID
}

// Message is a persisted chat message.
type Message struct {
	ID             string     `db:"id"`
	ConversationID string     `db:"conversation_id"`
	SenderID       string     `db:"sender_id"`
	ReceiverID     string     `db:"receiver_id"`
	Type           string     `db:"message_type"`
	Content        string     `db:"content"`
	Status         string     `db:"status"`
	IsDeleted      bool       `db:"is_deleted"`
	CreatedAt      time.Time  `db:"created_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
	SeenAt         *time.Time `db:"seen_at"`
}

// ConversationSummary is a conversation as listed for one participant.
type ConversationSummary struct {
	Conversation
	UnreadCount int
	LastMessage *Message
}

// ConversationFilter narrows ListConversations. Search matches the
// counterpart's name or any message content.
type ConversationFilter struct {
	Status string
	Search string
	Skip   int
	Limit  int
}

// UserStore persists users.
type UserStore interface {
	UpsertUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
}

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, professionalID, bookingID string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	FindConversation(ctx context.Context, userID, professionalID string) (Conversation, error)
	ListConversations(ctx context.Context, participantID string, filter ConversationFilter) ([]ConversationSummary, int, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// MessageStore persists messages and their delivery status.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// AdvanceMessageStatus moves a message addressed to receiverID forward to
	// status. It reports false when the message already had that status or a
	// higher one.
	AdvanceMessageStatus(ctx context.Context, messageID, receiverID, status string, at time.Time) (Message, bool, error)
	// MarkConversationRead sets every message addressed to readerID as seen and
	// returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	Close() error
}
