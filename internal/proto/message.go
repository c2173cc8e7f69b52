package proto

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for every socket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Socket event names.
const (
	EventAuthenticate       = "authenticate"
	EventAuthenticated      = "authenticated"
	EventJoinConversation   = "join_conversation"
	EventJoinedConversation = "joined_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventTyping             = "typing"
	EventNewMessage         = "new_message"
	EventMessageStatus      = "message_status"
	EventMessageDelivered   = "message_delivered"
	EventMessageSeen        = "message_seen"
	EventUserOnlineStatus   = "user_online_status"
	EventError              = "error"
)

// AuthenticateData binds a socket to a user.
type AuthenticateData struct {
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// AuthenticatedData acknowledges AuthenticateData.
type AuthenticatedData struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
}

// ConversationRoomData requests to join or leave a conversation room.
type ConversationRoomData struct {
	ConversationID string `json:"conversation_id"`
}

// TypingData is relayed in both directions.
type TypingData struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id,omitempty"`
	UserName       string    `json:"user_name,omitempty"`
	IsTyping       bool      `json:"is_typing"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// MessageAckData acknowledges delivery or sight of a message.
type MessageAckData struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// NewMessageData announces a persisted message. Servers populate either the
// nested Message or the flat fields; some populate both.
type NewMessageData struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content,omitempty"`
	MessageType    string       `json:"message_type,omitempty"`
	CreatedAt      time.Time    `json:"created_at,omitempty"`
	Timestamp      time.Time    `json:"timestamp,omitempty"`
	Message        *MessageData `json:"message,omitempty"`
}

// MessageStatusData reports a status transition. MessageID may be "all".
type MessageStatusData struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// UserOnlineStatusData reports presence changes.
type UserOnlineStatusData struct {
	UserID    string     `json:"user_id"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
