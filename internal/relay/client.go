package relay

// Client is one socket connection as seen by the hub. Commands is written by
// the connection's reader; Events is drained by its writer and closed by the
// hub on unregister.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// hub-owned
	userID string
	name   string
	rooms  map[string]struct{}
	quit   chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		rooms:    make(map[string]struct{}),
		quit:     make(chan struct{}),
	}
}

// send queues ev without blocking. It reports false when the client is too
// slow and the event was dropped.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
