package engine

import (
	"log/slog"
	"time"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/clock"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/metrics"
)

// Defaults for session timing.
const (
	DefaultMatchWindow      = 10 * time.Second
	DefaultMediaTimeout     = 30 * time.Second
	DefaultMediaDedupWindow = time.Second
	DefaultTypingQuiet      = 2 * time.Second
	DefaultTypingTTL        = 5 * time.Second
	DefaultTimelineDebounce = 100 * time.Millisecond
)

// ReceiptMode selects how message-read events are counted.
type ReceiptMode string

const (
	// ReceiptModeCounter increments once per event.
	ReceiptModeCounter ReceiptMode = "counter"

	// ReceiptModeByReader increments once per (message, reader).
	ReceiptModeByReader ReceiptMode = "by_reader"
)

// Signals are the session's outward notifications. Every field is optional.
// Callbacks run without the session lock held and must not block for long.
type Signals struct {
	// TimelineChanged delivers a room's timeline after one or more changes.
	TimelineChanged func(roomID string, timeline []chat.Message)

	// SendFailed reports a message that moved to FAILED.
	SendFailed func(msg chat.Message, err error)

	// Offline fires once when reconnect attempts are exhausted.
	Offline func(err error)

	// SessionTerminated fires exactly once on an authentication failure.
	SessionTerminated func(err error)

	// ConnectionChanged reports every connection state transition.
	ConnectionChanged func(snap connection.Snapshot)

	// TypingChanged delivers the peers typing in the active room.
	TypingChanged func(roomID string, peers []string)
}

// Executor runs durable calls off the caller's goroutine.
type Executor interface {
	Go(label string, fn func())
}

// GoExecutor runs each call on a new goroutine.
type GoExecutor struct{}

// Go implements Executor.
func (GoExecutor) Go(_ string, fn func()) {
	go fn()
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for timestamps and timers.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithIDGenerator sets the provisional id and token generator.
func WithIDGenerator(g chat.IDGenerator) Option {
	return func(s *Session) { s.ids = g }
}

// WithExecutor sets where durable calls run.
func WithExecutor(e Executor) Option {
	return func(s *Session) { s.exec = e }
}

// WithStore enables local history and the session event log.
func WithStore(st Store) Option {
	return func(s *Session) { s.store = st }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSignals sets the outward notification callbacks.
func WithSignals(sig Signals) Option {
	return func(s *Session) { s.signals = sig }
}

// WithSessionID sets the id recorded in the session event log.
func WithSessionID(id string) Option {
	return func(s *Session) { s.sessionID = id }
}

// WithMatchWindow sets the createdAt tolerance for matching own messages.
func WithMatchWindow(d time.Duration) Option {
	return func(s *Session) { s.matchWindow = d }
}

// WithMediaTimeout bounds media sends.
func WithMediaTimeout(d time.Duration) Option {
	return func(s *Session) { s.mediaTimeout = d }
}

// WithDedupWindows sets the repeat-tap guard for text and media sends.
// A zero window disables the guard for that class.
func WithDedupWindows(text, media time.Duration) Option {
	return func(s *Session) {
		s.textDedup = text
		s.mediaDedup = media
	}
}

// WithTyping sets the local quiet period and the peer entry TTL.
func WithTyping(quiet, ttl time.Duration) Option {
	return func(s *Session) {
		s.typingQuiet = quiet
		s.typingTTL = ttl
	}
}

// WithTimelineDebounce sets the coalescing delay of TimelineChanged.
// Zero emits on every change.
func WithTimelineDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounce = d }
}

// WithHeartbeatInterval sets the foreground pulse period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Session) { s.heartbeatInterval = d }
}

// WithPulseTimeout bounds a single heartbeat request.
func WithPulseTimeout(d time.Duration) Option {
	return func(s *Session) { s.pulseTimeout = d }
}

// WithDialTimeout bounds a single reconnect dial.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// WithReconnect sets the reconnect policy.
func WithReconnect(b connection.Backoff, maxAttempts int) Option {
	return func(s *Session) {
		s.backoff = b
		s.maxAttempts = maxAttempts
	}
}

// WithReceiptMode selects how read receipts are counted.
func WithReceiptMode(mode ReceiptMode) Option {
	return func(s *Session) { s.receipts = NewReceiptAggregator(mode) }
}
