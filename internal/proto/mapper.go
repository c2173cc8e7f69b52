package proto

import (
	"errors"
	"time"

	"github.com/vovakirdan/convosync/internal/core"
)

var (
	errMissingConversation = errors.New("conversation_id is required")
	errMissingMessageID    = errors.New("message id is required")
	errMissingUser         = errors.New("user_id is required")
)

// ToCore converts a persisted message into the domain shape.
func (d MessageData) ToCore() core.Message {
	return core.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		Content:        d.Content,
		Type:           core.MessageType(d.MessageType),
		Status:         core.MessageStatus(d.Status),
		CreatedAt:      d.CreatedAt,
	}
}

// Normalize resolves the nested-vs-flat ambiguity of new_message payloads into
// a single event. Nested fields win when both are present.
func (d NewMessageData) Normalize() (core.NewMessageEvent, error) {
	msg := core.Message{
		ID:             d.MessageID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Type:           core.MessageType(d.MessageType),
		CreatedAt:      firstTime(d.CreatedAt, d.Timestamp),
	}
	if d.Message != nil {
		nested := d.Message.ToCore()
		msg.ID = firstString(nested.ID, msg.ID)
		msg.ConversationID = firstString(nested.ConversationID, msg.ConversationID)
		msg.SenderID = firstString(nested.SenderID, msg.SenderID)
		msg.ReceiverID = nested.ReceiverID
		msg.Content = firstString(nested.Content, msg.Content)
		msg.Type = core.MessageType(firstString(string(nested.Type), string(msg.Type)))
		msg.Status = nested.Status
		msg.CreatedAt = firstTime(nested.CreatedAt, msg.CreatedAt)
	}
	if msg.Type == "" {
		msg.Type = core.MessageTypeText
	}
	// Pushed messages reached the server, so they are at least delivered.
	if msg.Status == "" && msg.Type != core.MessageTypeSystem {
		msg.Status = core.StatusDelivered
	}

	if msg.ConversationID == "" {
		return core.NewMessageEvent{}, errMissingConversation
	}
	if msg.ID == "" {
		return core.NewMessageEvent{}, errMissingMessageID
	}

	return core.NewMessageEvent{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Message:        msg,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// Normalize validates and converts a message_status payload.
func (d MessageStatusData) Normalize() (core.StatusEvent, error) {
	if d.ConversationID == "" {
		return core.StatusEvent{}, errMissingConversation
	}
	if d.MessageID == "" {
		return core.StatusEvent{}, errMissingMessageID
	}
	status := core.MessageStatus(d.Status)
	if !status.Valid() {
		return core.StatusEvent{}, errors.New("unknown status " + d.Status)
	}
	return core.StatusEvent{
		ConversationID: d.ConversationID,
		MessageID:      d.MessageID,
		Status:         status,
		At:             d.UpdatedAt,
	}, nil
}

// Normalize validates and converts a typing payload.
func (d TypingData) Normalize() (core.TypingEvent, error) {
	if d.ConversationID == "" {
		return core.TypingEvent{}, errMissingConversation
	}
	return core.TypingEvent{
		ConversationID: d.ConversationID,
		UserID:         d.UserID,
		UserName:       d.UserName,
		IsTyping:       d.IsTyping,
	}, nil
}

// Normalize validates and converts a user_online_status payload.
func (d UserOnlineStatusData) Normalize() (core.PresenceEvent, error) {
	if d.UserID == "" {
		return core.PresenceEvent{}, errMissingUser
	}
	at := d.Timestamp
	if d.LastSeen != nil && !d.IsOnline {
		at = *d.LastSeen
	}
	return core.PresenceEvent{UserID: d.UserID, IsOnline: d.IsOnline, At: at}, nil
}

// ToCore converts a conversation summary into the domain shape.
func (d ConversationData) ToCore() core.Conversation {
	conv := core.Conversation{
		ID:           d.ID,
		UnreadCount:  d.UnreadCount,
		IsPriority:   d.IsPriority,
		PriorityText: d.PriorityText,
		Status:       core.ConversationStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, p := range d.Participants {
		part := core.Participant{
			UserID:   p.UserID,
			Role:     core.Role(p.Role),
			Name:     p.Name,
			IsOnline: p.IsOnline,
			IsMuted:  p.IsMuted,
		}
		if p.LastSeen != nil {
			part.LastSeen = *p.LastSeen
		}
		conv.Participants = append(conv.Participants, part)
	}
	if d.LastMessageAt != nil || d.LastMessageContent != "" {
		lm := &core.LastMessage{
			ID:       d.LastMessageID,
			Content:  d.LastMessageContent,
			Type:     core.MessageType(d.LastMessageType),
			SenderID: d.LastMessageSenderID,
			Status:   core.MessageStatus(d.LastMessageStatus),
		}
		if d.LastMessageAt != nil {
			lm.At = *d.LastMessageAt
		}
		conv.LastMessage = lm
	}
	if d.BookingReference != nil {
		b := d.BookingReference.ToCore()
		conv.Booking = &b
	}
	return conv
}

// ToCore converts booking data into a reference.
func (d BookingData) ToCore() core.BookingReference {
	return core.BookingReference{
		BookingID:   d.BookingID,
		ServiceName: d.ServiceName,
		Status:      d.Status,
		ScheduledAt: d.ScheduledTime,
		Price:       d.Price,
		Address:     d.Address,
	}
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}
