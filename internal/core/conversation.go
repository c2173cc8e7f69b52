package core

import "time"

// Role is a participant's side of a marketplace conversation.
type Role string

const (
	RoleUser         Role = "user"
	RoleProfessional Role = "professional"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationClosed   ConversationStatus = "closed"
)

// Participant is one side of a conversation.
type Participant struct {
	UserID   string
	Role     Role
	Name     string
	IsOnline bool
	IsMuted  bool
	LastSeen time.Time
}

// LastMessage summarizes the most recent message of a conversation.
type LastMessage struct {
	ID       string
	Content  string
	Type     MessageType
	SenderID string
	Status   MessageStatus
	At       time.Time
}

// BookingReference links a conversation to an external booking.
type BookingReference struct {
	BookingID   string
	ServiceName string
	Status      string
	ScheduledAt time.Time
	Price       float64
	Address     string
}

// Conversation is the summary view of a thread between a customer and a professional.
type Conversation struct {
	ID           string
	Participants []Participant
	LastMessage  *LastMessage
	UnreadCount  int
	IsPriority   bool
	PriorityText string
	Status       ConversationStatus
	Booking      *BookingReference
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Counterpart returns the first participant that is not localUserID.
func (c Conversation) Counterpart(localUserID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID != localUserID {
			return p, true
		}
	}
	return Participant{}, false
}

// LastActivity is the timestamp used to order conversation lists.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && !c.LastMessage.At.IsZero() {
		return c.LastMessage.At
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Clone returns a deep copy so callers can't mutate shared summary state.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]Participant(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	if c.Booking != nil {
		b := *c.Booking
		out.Booking = &b
	}
	return out
}
