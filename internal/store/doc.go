// Package store provides SQLite-backed local storage for chat sessions.
//
// The store keeps two tables:
//   - messages: the per-room timeline, including provisional entries
//   - session_events: an append-only log of engine activity
//
// # Ordering
//
// Room history is always returned ORDER BY created_at ASC, seq ASC,
// id COLLATE BINARY ASC so reloaded timelines match the in-memory order.
//
// # Connections
//
// A Store holds a single connection opened with WAL journaling,
// synchronous=NORMAL, a 5s busy timeout and foreign keys on. Memory
// selects a private in-memory database instead.
//
// # Migrations
//
// The schema is versioned through PRAGMA user_version. Opening a store
// applies every newer migration, each in its own transaction, and refuses
// databases written by a newer version.
package store
