// Package chat provides the message and event types shared by the sync engine,
// the transport and the REST client.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import chat; chat imports nothing internal.
//
// Key design constraints:
//   - JSON tags use the camelCase wire names of the chat server
//   - Provisional ids always carry the "temp_" prefix and never reach the server
//   - Timestamps are wall-clock server times; ordering ties fall back to Seq
package chat
