package chat

import (
	"errors"
	"fmt"
)

// ValidationError describes a malformed inbound payload.
type ValidationError struct {
	Event   string
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s event: %s: %s", e.Event, e.Field, e.Message)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Message)
}

// IsValidationError returns true if err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateInbound checks that a server message carries every field the
// reconciliation rules depend on.
func ValidateInbound(event string, m *Message) error {
	if m == nil {
		return &ValidationError{Event: event, Message: "missing message"}
	}
	switch {
	case m.ID == "":
		return &ValidationError{Event: event, Field: "id", Message: "required"}
	case IsProvisionalID(m.ID):
		return &ValidationError{Event: event, Field: "id", Message: "server ids cannot be provisional"}
	case m.RoomID == "":
		return &ValidationError{Event: event, Field: "roomId", Message: "required"}
	case m.SenderID == "":
		return &ValidationError{Event: event, Field: "senderId", Message: "required"}
	case !ValidKinds[m.Kind]:
		return &ValidationError{Event: event, Field: "kind", Message: fmt.Sprintf("unknown kind %q", m.Kind)}
	case m.CreatedAt.IsZero():
		return &ValidationError{Event: event, Field: "createdAt", Message: "required"}
	case m.ReadCount < 0:
		return &ValidationError{Event: event, Field: "readCount", Message: "must be >= 0"}
	}
	return nil
}

// ValidateTyping checks an inbound user-typing payload.
func ValidateTyping(p *UserTyping) error {
	if p.UserID == "" {
		return &ValidationError{Event: EventUserTyping, Field: "userId", Message: "required"}
	}
	return nil
}

// ValidateRead checks an inbound message-read payload.
func ValidateRead(p *MessageRead) error {
	if p.MessageID == "" {
		return &ValidationError{Event: EventMessageRead, Field: "messageId", Message: "required"}
	}
	return nil
}
