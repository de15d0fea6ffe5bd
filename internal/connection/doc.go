// Package connection keeps the event channel to the chat server alive.
//
// Manager owns the connection lifecycle:
//
//	DISCONNECTED --Connect--> CONNECTING --dial ok--> CONNECTED
//	     ^                        |                       |
//	     +------ dial error ------+---- read error -------+
//
// After an unexpected drop the manager reconnects with non-decreasing
// backoff until MaxReconnectAttempts is reached, then reports offline once
// and waits for Retry or Foreground. A 401 at handshake ends the session.
//
// Heartbeat posts a liveness pulse on a fixed interval while the app is in
// the foreground. A 401 pulse ends the session as well.
package connection
