package relay

import "github.com/vovakirdan/convosync/internal/proto"

// Error codes sent to sockets in error events.
const (
	ErrCodeRoomNotFound    = "room_not_found"
	ErrCodeNotInRoom       = "not_in_room"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeInternal        = "internal"
)

func errorEvent(code, msg string) *Event {
	return &Event{Name: proto.EventError, Data: proto.Error{Code: code, Msg: msg}}
}
