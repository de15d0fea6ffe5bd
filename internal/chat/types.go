package chat

import (
	"fmt"
	"time"
)

// Kind is the content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

// ValidKinds defines allowed message kinds.
var ValidKinds = map[Kind]bool{
	KindText:  true,
	KindImage: true,
	KindAudio: true,
	KindVideo: true,
	KindFile:  true,
}

// IsMedia reports whether the kind is uploaded as a file.
func (k Kind) IsMedia() bool {
	return k != KindText && ValidKinds[k]
}

// ParseKind converts a wire string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !ValidKinds[k] {
		return "", fmt.Errorf("unknown message kind %q", s)
	}
	return k, nil
}

// DeliveryState tracks a message from optimistic insertion to server confirmation.
type DeliveryState string

const (
	// StatePending marks a message created while the connection was down.
	// It is sent when the connection comes back.
	StatePending DeliveryState = "PENDING"

	// StateSending marks a message whose durable send is in flight.
	StateSending DeliveryState = "SENDING"

	// StateConfirmed marks a message acknowledged by the server.
	StateConfirmed DeliveryState = "CONFIRMED"

	// StateFailed marks a message whose send was rejected or timed out.
	StateFailed DeliveryState = "FAILED"
)

// Message is a single timeline entry.
//
// ID is either the server's durable id or a provisional id (see IsProvisional).
// LocalRef is only meaningful for media entries that are not yet confirmed.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"roomId"`
	SenderID    string        `json:"senderId"`
	Kind        Kind          `json:"kind"`
	Body        string        `json:"body"`
	CreatedAt   time.Time     `json:"createdAt"`
	ReadCount   int           `json:"readCount"`
	State       DeliveryState `json:"deliveryState,omitempty"`
	LocalRef    string        `json:"localRef,omitempty"`
	ClientToken string        `json:"clientToken,omitempty"`

	// Seq is a local insertion stamp used to keep sorting stable.
	Seq int64 `json:"-"`
}

// Key returns the (sender, createdAt, kind) triple used to detect redelivered
// messages that carry no comparable id.
func (m *Message) Key() string {
	return fmt.Sprintf("%s|%d|%s", m.SenderID, m.CreatedAt.UnixMilli(), m.Kind)
}

// IsProvisional reports whether the message still carries a client-side id.
func (m *Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// ConnState is the state of the event channel.
type ConnState string

const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
)
