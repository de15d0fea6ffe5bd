// Package transport carries chat events over a WebSocket connection.
//
// Every frame is a JSON envelope {"event": <name>, "data": <payload>}.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned by Dial when the server rejects the handshake with 401.
var ErrUnauthorized = errors.New("transport: unauthorized")

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("transport: connection closed")

// Envelope is one event frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload as the data of an event frame.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Conn is an open event channel.
//
// Read is called from a single reader goroutine. Write may be called
// concurrently. Close unblocks a pending Read.
type Conn interface {
	Read() (Envelope, error)
	Write(ctx context.Context, e Envelope) error
	Close() error
}

// Dialer opens event channels.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}
