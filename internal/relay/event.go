package relay

// Event is one outbound socket frame. Data is marshalled as the frame payload.
type Event struct {
	Name string
	Data any
}
