package relay

// CommandKind describes what the socket wants to do.
type CommandKind int

const (
	// CommandAuthenticate binds the socket to a verified user.
	CommandAuthenticate CommandKind = iota
	// CommandJoinRoom subscribes the socket to a conversation room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the socket from a conversation room.
	CommandLeaveRoom
	// CommandTyping relays a typing indicator to the rest of the room.
	CommandTyping
	// CommandAck records that a message was delivered or seen.
	CommandAck
)

// Command represents an action requested by a socket.
type Command struct {
	Kind CommandKind
	Room string

	// Authenticate
	UserID string
	Name   string

	// Typing
	IsTyping bool

	// Ack
	MessageID string
	Status    string
}
