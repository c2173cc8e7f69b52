package api

import (
	"fmt"

	"github.com/vovakirdan/convosync/internal/core"
)

// ConversationDetail is a conversation with its persisted history.
type ConversationDetail struct {
	Conversation core.Conversation
	Messages     []core.Message
	Booking      *core.BookingReference
}

// SendRequest persists one message.
type SendRequest struct {
	ConversationID string
	ReceiverID     string
	Type           core.MessageType
	Content        string
}

// Filter narrows a conversation list fetch.
type Filter struct {
	Status        string
	BookingStatus string
	Search        string
	Skip          int
	Limit         int
}

// ConversationPage is one page of conversation summaries.
type ConversationPage struct {
	Conversations []core.Conversation
	Total         int
	UnreadTotal   int
}

// StatusError is a non-2xx response the client could not map to a sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}
