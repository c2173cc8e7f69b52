package core

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// MessageType classifies message payloads.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeLocation MessageType = "location"
	MessageTypeSystem   MessageType = "system"
)

// MessageStatus is the delivery state of a non-system message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Rank orders statuses so that seen > delivered > sent. Unknown values rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Sender tags who wrote a message relative to the local user.
type Sender string

const (
	SenderSelf   Sender = "self"
	SenderOther  Sender = "other"
	SenderSystem Sender = "system"
)

// TempIDPrefix marks client-assigned ids of messages not yet persisted.
const TempIDPrefix = "temp-"

// Message is the domain model for a chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Type           MessageType
	Status         MessageStatus
	Sender         Sender
	CreatedAt      time.Time
}

// IsTemporary reports whether the message still carries a client-assigned id.
func (m Message) IsTemporary() bool {
	return IsTempID(m.ID)
}

// IsTempID reports whether id was produced by a TempIDs generator.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Tag returns a copy of m with Sender computed for localUserID.
// System messages never carry a status.
func (m Message) Tag(localUserID string) Message {
	switch {
	case m.Type == MessageTypeSystem:
		m.Sender = SenderSystem
		m.Status = ""
	case m.SenderID == localUserID:
		m.Sender = SenderSelf
	default:
		m.Sender = SenderOther
	}
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	return m
}

// TempIDs hands out "temp-<unix millis>" ids that never repeat within a process,
// even when two sends land in the same millisecond.
type TempIDs struct {
	mu   sync.Mutex
	last int64
}

// Next returns a fresh temporary id based on now.
func (g *TempIDs) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := now.UnixMilli()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts
	return TempIDPrefix + strconv.FormatInt(ts, 10)
}
