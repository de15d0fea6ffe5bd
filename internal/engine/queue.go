package engine

import (
	"sync"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/transport"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeFrame is an inbound event-channel frame.
	EventTypeFrame EventType = iota + 1
	// EventTypeSendResult is the outcome of a durable send.
	EventTypeSendResult
	// EventTypeSendTimeout fires when a media send exceeds its bound.
	EventTypeSendTimeout
	// EventTypeConnState is a connection state change.
	EventTypeConnState
	// EventTypeOffline fires when reconnect attempts are exhausted.
	EventTypeOffline
	// EventTypeTypingQuiet fires after the local typing quiet period.
	EventTypeTypingQuiet
	// EventTypeTypingSweep expires stale peer typing entries.
	EventTypeTypingSweep
	// EventTypeTimelineFlush emits debounced timeline notifications.
	EventTypeTimelineFlush
	// EventTypeHistory carries a fetched room history.
	EventTypeHistory
	// EventTypeUnauthorized ends the session.
	EventTypeUnauthorized
)

func (t EventType) String() string {
	switch t {
	case EventTypeFrame:
		return "frame"
	case EventTypeSendResult:
		return "send_result"
	case EventTypeSendTimeout:
		return "send_timeout"
	case EventTypeConnState:
		return "conn_state"
	case EventTypeOffline:
		return "offline"
	case EventTypeTypingQuiet:
		return "typing_quiet"
	case EventTypeTypingSweep:
		return "typing_sweep"
	case EventTypeTimelineFlush:
		return "timeline_flush"
	case EventTypeHistory:
		return "history"
	case EventTypeUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Event is one asynchronous input to the session.
type Event struct {
	Type EventType

	Frame  transport.Envelope
	Result *SendResult
	Conn   connection.Snapshot

	RoomID        string
	ProvisionalID string
	History       []chat.Message
	Err           error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so transport reads and timer callbacks never block
// on a slow consumer.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain payloads.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
