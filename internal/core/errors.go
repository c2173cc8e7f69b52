package core

import (
	"errors"
	"fmt"
)

// Error codes for synchronization errors.
const (
	ErrCodeTransportDisconnected = "transport_disconnected"
	ErrCodeLoadFailed            = "load_failed"
	ErrCodeSendFailed            = "send_failed"
	ErrCodeConversationNotFound  = "conversation_not_found"
	ErrCodeEmptyMessage          = "empty_message"
	ErrCodeNotReady              = "not_ready"
)

var (
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrLoadFailed            = errors.New("load failed")
	ErrSendFailed            = errors.New("send failed")
	ErrNotFound              = errors.New("not found")
	ErrEmptyMessage          = errors.New("empty message")
	ErrNotReady              = errors.New("conversation not ready")
)

// CoreError wraps a code, a human-readable message and the underlying cause.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a CoreError against the sentinel of its code.
func (e *CoreError) Is(target error) bool {
	return sentinelFor(e.Code) == target && target != nil
}

// LoadFailed wraps a history fetch failure.
func LoadFailed(err error) *CoreError {
	return coreError(ErrCodeLoadFailed, "failed to load conversation", err)
}

// SendFailed wraps a persist failure of an optimistic send.
func SendFailed(err error) *CoreError {
	return coreError(ErrCodeSendFailed, "failed to send message", err)
}

// Disconnected is returned by emits while the channel is down.
func Disconnected() *CoreError {
	return coreError(ErrCodeTransportDisconnected, "transport disconnected", nil)
}

// EmptyMessage rejects a send with no content.
func EmptyMessage() *CoreError {
	return coreError(ErrCodeEmptyMessage, "message is empty", nil)
}

// NotReady rejects operations that need a loaded conversation.
func NotReady(conversationID string) *CoreError {
	return coreError(ErrCodeNotReady, fmt.Sprintf("conversation %s is not loaded", conversationID), nil)
}

// RedirectError reports that the requested id was a counterpart user id and a
// conversation was created for it. It is not a user-visible failure.
type RedirectError struct {
	From           string
	ConversationID string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("conversation %q resolved to %q", e.From, e.ConversationID)
}

// Code returns the error code for err, or "" when err carries none.
func Code(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var re *RedirectError
	if errors.As(err, &re) {
		return ErrCodeConversationNotFound
	}
	return ""
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

func sentinelFor(code string) error {
	switch code {
	case ErrCodeTransportDisconnected:
		return ErrTransportDisconnected
	case ErrCodeLoadFailed:
		return ErrLoadFailed
	case ErrCodeSendFailed:
		return ErrSendFailed
	case ErrCodeEmptyMessage:
		return ErrEmptyMessage
	case ErrCodeNotReady:
		return ErrNotReady
	default:
		return nil
	}
}
