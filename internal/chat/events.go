package chat

// Event names exchanged over the event channel.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventTyping      = "typing"
	EventNewMessage  = "new-message"
	EventMessageSent = "message-sent"
	EventUserTyping  = "user-typing"
	EventMessageRead = "message-read"
	EventUserJoined  = "user-joined"
	EventError       = "error"
)

// RoomRef is the payload of join-room and leave-room.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// TypingSignal is the payload of the outbound typing event.
type TypingSignal struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// UserTyping is the payload of the inbound user-typing event.
type UserTyping struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// MessageRead is the payload of the inbound message-read event.
// ReaderID is optional; servers that omit it cannot be de-duplicated per reader.
type MessageRead struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId,omitempty"`
}

// UserJoined is the payload of the inbound user-joined event.
type UserJoined struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId,omitempty"`
}

// ServerError is the payload of the inbound error event.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
