package connection

import (
	"errors"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/transport"
)

var (
	// ErrNotConnected is returned by Send while the channel is down.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrTerminated is returned once the session has ended on an auth failure.
	ErrTerminated = errors.New("connection: session terminated")

	// ErrIntervalTooShort is returned by Heartbeat.Start below MinHeartbeatInterval.
	ErrIntervalTooShort = errors.New("connection: heartbeat interval below minimum")

	// ErrNoCredentials is returned by Retry before any Connect.
	ErrNoCredentials = errors.New("connection: no credentials")
)

// IsUnauthorized reports whether err is an authentication failure from
// either the REST API or the event channel handshake.
func IsUnauthorized(err error) bool {
	return errors.Is(err, api.ErrUnauthorized) || errors.Is(err, transport.ErrUnauthorized)
}
