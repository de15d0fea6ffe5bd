// Package engine implements the chat session: optimistic sends,
// reconciliation with server copies, typing presence and read receipts.
//
// ARCHITECTURE:
//
// Single-Writer Session:
// All session state lives behind one mutex. User commands (SendText,
// JoinRoom, ...) apply directly; everything asynchronous (inbound frames,
// durable call results, timers, connection changes) is enqueued on a FIFO
// queue and applied one event at a time by Run (or Drain in tests).
//
// Event Processing Flow:
//  1. A send inserts a provisional entry into the timeline and PendingSet
//  2. The durable call runs on the Executor and enqueues its result
//  3. Inbound new-message / message-sent frames are enqueued by the connection
//  4. Run applies each event; reconciliation replaces or inserts entries
//  5. Timeline changes are announced through Signals, debounced
//
// Calls into the connection manager, the heartbeat and Signals callbacks are
// made after the session lock is released.
//
// RECONCILIATION ORDER:
//
//  1. Exact match on the client token echoed by the server
//  2. Own message: SENDING entry with same room, kind and sender within MatchWindow,
//     falling back to a FAILED entry under the same rule
//  3. Otherwise dedup on durable id or (sender, createdAt, kind), then insert
package engine
