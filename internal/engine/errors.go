package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/chatsync/internal/chat"
)

var (
	// ErrDuplicateSend is returned when a send repeats within the de-dup window.
	ErrDuplicateSend = errors.New("duplicate send dropped")

	// ErrEmptyBody is returned for text sends with nothing to send.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotRetryable is returned by Retry for entries that are not FAILED.
	ErrNotRetryable = errors.New("message is not in FAILED state")
)

// SessionError is a terminal or user-actionable failure surfaced by the session.
//
// Transport drops and reconciliation ambiguities never become SessionErrors;
// they are handled inside the session.
type SessionError struct {
	// Code identifies the error category.
	Code SessionErrorCode

	// Message is a human-readable description.
	Message string

	// RoomID and MessageID identify the affected entry, when there is one.
	RoomID    string
	MessageID string

	// Err is the underlying cause.
	Err error
}

// SessionErrorCode categorizes session errors.
type SessionErrorCode string

const (
	// ErrCodeAuthExpired indicates a 401 from the server. The user must sign in again.
	ErrCodeAuthExpired SessionErrorCode = "AUTH_EXPIRED"

	// ErrCodeOffline indicates reconnect attempts were exhausted.
	ErrCodeOffline SessionErrorCode = "OFFLINE"

	// ErrCodeSendFailed indicates a durable send was rejected or timed out.
	ErrCodeSendFailed SessionErrorCode = "SEND_FAILED"

	// ErrCodeMalformedEvent indicates an inbound frame was dropped.
	ErrCodeMalformedEvent SessionErrorCode = "MALFORMED_EVENT"
)

// Error implements the error interface.
func (e *SessionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MessageID != "" {
		msg = fmt.Sprintf("%s (room=%s, message=%s)", msg, e.RoomID, e.MessageID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsAuthError returns true if the error ended the session on authentication.
// Uses errors.As to handle wrapped errors.
func IsAuthError(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeAuthExpired
	}
	return false
}

// IsSendFailed returns true if the error reports a failed send.
func IsSendFailed(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeSendFailed
	}
	return false
}

// NewAuthError creates a SessionError for an expired session.
func NewAuthError(cause error) *SessionError {
	return &SessionError{
		Code:    ErrCodeAuthExpired,
		Message: "session expired, please sign in again",
		Err:     cause,
	}
}

// NewSendFailedError creates a SessionError for a failed send.
func NewSendFailedError(m *chat.Message, cause error) *SessionError {
	return &SessionError{
		Code:      ErrCodeSendFailed,
		Message:   fmt.Sprintf("%s message was not delivered", m.Kind),
		RoomID:    m.RoomID,
		MessageID: m.ID,
		Err:       cause,
	}
}

// NewOfflineError creates a SessionError for exhausted reconnects.
func NewOfflineError() *SessionError {
	return &SessionError{
		Code:    ErrCodeOffline,
		Message: "connection lost, retry to reconnect",
	}
}

// errSendTimeout is the cause recorded for media sends that exceed their bound.
var errSendTimeout = errors.New("send timed out")
