package core

import "time"

// AllMessages is the status-event message id that targets every message of a conversation.
const AllMessages = "all"

// NewMessageEvent notifies that a message was persisted in a conversation.
type NewMessageEvent struct {
	ConversationID string
	SenderID       string
	Message        Message
	CreatedAt      time.Time
}

// StatusEvent notifies that a message (or all of them) changed delivery status.
type StatusEvent struct {
	ConversationID string
	MessageID      string
	Status         MessageStatus
	At             time.Time
}

// TargetsAll reports whether the event applies to the whole conversation.
func (e StatusEvent) TargetsAll() bool {
	return e.MessageID == AllMessages
}

// TypingEvent notifies that a participant started or stopped typing.
type TypingEvent struct {
	ConversationID string
	UserID         string
	UserName       string
	IsTyping       bool
}

// PresenceEvent notifies that a user went online or offline.
type PresenceEvent struct {
	UserID   string
	IsOnline bool
	At       time.Time
}
