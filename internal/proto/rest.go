package proto

import "time"

// ParticipantData is a conversation participant as served by the REST API.
type ParticipantData struct {
	UserID      string     `json:"user_id"`
	Role        string     `json:"role"`
	Name        string     `json:"name"`
	Photo       string     `json:"photo,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	UnreadCount int        `json:"unread_count"`
	IsMuted     bool       `json:"is_muted"`
	Profession  string     `json:"profession,omitempty"`
}

// MessageData is a persisted message.
type MessageData struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id,omitempty"`
	SenderRole     string     `json:"sender_role,omitempty"`
	MessageType    string     `json:"message_type"`
	Content        string     `json:"content"`
	Status         string     `json:"status,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
	SenderName     string     `json:"sender_name,omitempty"`
}

// BookingData is the optional booking linked to a conversation.
type BookingData struct {
	BookingID     string    `json:"booking_id"`
	ServiceName   string    `json:"service_name"`
	ServiceType   string    `json:"service_type,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	Address       string    `json:"address,omitempty"`
}

// ConversationData is a conversation summary.
type ConversationData struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	ProfessionalID      string            `json:"professional_id"`
	Participants        []ParticipantData `json:"participants"`
	BookingID           string            `json:"booking_id,omitempty"`
	BookingReference    *BookingData      `json:"booking_reference,omitempty"`
	Status              string            `json:"status"`
	LastMessageID       string            `json:"last_message_id,omitempty"`
	LastMessageContent  string            `json:"last_message_content,omitempty"`
	LastMessageType     string            `json:"last_message_type,omitempty"`
	LastMessageSenderID string            `json:"last_message_sender_id,omitempty"`
	LastMessageStatus   string            `json:"last_message_status,omitempty"`
	LastMessageAt       *time.Time        `json:"last_message_at,omitempty"`
	IsPriority          bool              `json:"is_priority"`
	PriorityText        string            `json:"priority_text,omitempty"`
	UnreadCount         int               `json:"unread_count"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ConversationListResponse is returned by GET /messages/conversations.
type ConversationListResponse struct {
	Conversations []ConversationData `json:"conversations"`
	Total         int                `json:"total"`
	UnreadTotal   int                `json:"unread_total"`
	Skip          int                `json:"skip"`
	Limit         int                `json:"limit"`
}

// ConversationDetailResponse is returned by GET /messages/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation  ConversationData `json:"conversation"`
	Messages      []MessageData    `json:"messages"`
	TotalMessages int              `json:"total_messages"`
	Booking       *BookingData     `json:"booking,omitempty"`
}

// StartConversationRequest opens (or returns) the conversation with a professional.
type StartConversationRequest struct {
	ProfessionalID string `json:"professional_id" binding:"required"`
	BookingID      string `json:"booking_id,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}

// SendMessageRequest persists a message.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	ReceiverID     string `json:"receiver_id" binding:"required"`
	MessageType    string `json:"message_type,omitempty"`
	Content        string `json:"content" binding:"required"`
}

// SendMessageResponse carries the persisted message.
type SendMessageResponse struct {
	Message        string      `json:"message"`
	Data           MessageData `json:"data"`
	ConversationID string      `json:"conversation_id"`
}

// StatusResponse is a generic acknowledgement body.
type StatusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// UnreadCountResponse is returned by GET /messages/conversations/unread-count.
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// TokenRequest asks the development backend for a bearer token.
type TokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
