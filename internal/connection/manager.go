package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/clock"
	"github.com/roach88/chatsync/internal/transport"
)

// DefaultMaxReconnectAttempts bounds automatic reconnects after a drop.
const DefaultMaxReconnectAttempts = 5

// DefaultDialTimeout bounds one dial of the event channel.
const DefaultDialTimeout = 15 * time.Second

// Credentials identify the session on the event channel.
type Credentials struct {
	URL   string
	Token string
}

// Snapshot is the observable connection state.
type Snapshot struct {
	State            chat.ConnState
	ReconnectAttempt int
	Err              error
}

// Manager owns the event channel for one session.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// invoked without the internal lock held.
type Manager struct {
	dialer      transport.Dialer
	clock       clock.Clock
	backoff     Backoff
	maxAttempts int
	dialTimeout time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	state      chat.ConnState
	attempt    int
	creds      Credentials
	haveCreds  bool
	conn       transport.Conn
	gen        int64 // bumps on every dial and teardown; stale callbacks compare against it
	retry      clock.Timer
	offline    bool
	terminated bool

	listeners      []func(Snapshot)
	onEvent        func(transport.Envelope)
	onOffline      func()
	onUnauthorized func(error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for reconnect timers.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithBackoff sets the reconnect backoff policy.
func WithBackoff(b Backoff) ManagerOption {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxReconnectAttempts bounds automatic reconnects.
func WithMaxReconnectAttempts(n int) ManagerOption {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithDialTimeout bounds reconnect dials started from timers.
func WithDialTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a disconnected manager.
func NewManager(dialer transport.Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:      dialer,
		clock:       clock.Real{},
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxReconnectAttempts,
		dialTimeout: DefaultDialTimeout,
		logger:      slog.Default(),
		state:       chat.ConnDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange registers a state listener.
func (m *Manager) OnStateChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnEvent sets the handler for inbound frames. It runs on the read goroutine.
func (m *Manager) OnEvent(fn func(transport.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// OnOffline sets the handler fired once reconnect attempts are exhausted.
func (m *Manager) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = fn
}

// OnUnauthorized sets the handler fired when the handshake is rejected with 401.
func (m *Manager) OnUnauthorized(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnauthorized = fn
}

// State returns the current snapshot.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, ReconnectAttempt: m.attempt}
}

// Connect opens the event channel.
//
// It is a no-op while CONNECTED or CONNECTING. A failed dial schedules a
// reconnect and returns the dial error.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return ErrTerminated
	}
	m.creds = creds
	m.haveCreds = true
	if m.state != chat.ConnDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.cancelRetryLocked()
	return m.dialLocked(ctx)
}

// Retry reconnects on explicit user request, resetting the attempt counter.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return ErrTerminated
	}
	if !m.haveCreds {
		m.mu.Unlock()
		return ErrNoCredentials
	}
	m.cancelRetryLocked()
	m.attempt = 0
	m.offline = false
	if m.state != chat.ConnDisconnected {
		m.mu.Unlock()
		return nil
	}
	return m.dialLocked(ctx)
}

// Foreground reconnects eagerly, ignoring any pending backoff timer.
func (m *Manager) Foreground(ctx context.Context) error {
	m.logger.Debug("foreground transition")
	err := m.Retry(ctx)
	if errors.Is(err, ErrNoCredentials) {
		return nil
	}
	return err
}

// Disconnect closes the channel without scheduling a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.cancelRetryLocked()
	conn := m.conn
	m.conn = nil
	m.attempt = 0
	changed := m.state != chat.ConnDisconnected
	m.state = chat.ConnDisconnected
	snap, listeners := m.snapshotLocked(nil)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		notify(listeners, snap)
	}
	m.logger.Info("disconnected")
}

// Terminate ends the session: credentials are cleared and no further
// connects or reconnects happen.
func (m *Manager) Terminate() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.creds = Credentials{}
	m.haveCreds = false
	m.mu.Unlock()

	m.Disconnect()
}

// Send writes a frame on the open channel.
func (m *Manager) Send(ctx context.Context, e transport.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == chat.ConnConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, e)
}

// dialLocked must be called with m.mu held; it releases the lock.
func (m *Manager) dialLocked(ctx context.Context) error {
	m.gen++
	gen := m.gen
	creds := m.creds
	m.state = chat.ConnConnecting
	snap, listeners := m.snapshotLocked(nil)
	m.mu.Unlock()

	notify(listeners, snap)
	m.logger.Info("connecting", "url", creds.URL, "attempt", snap.ReconnectAttempt)

	conn, err := m.dialer.Dial(ctx, creds.URL, creds.Token)

	m.mu.Lock()
	if gen != m.gen {
		// Disconnected or terminated while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		if IsUnauthorized(err) {
			onUnauthorized := m.onUnauthorized
			m.mu.Unlock()
			m.logger.Warn("handshake rejected, ending session", "error", err)
			m.Terminate()
			if onUnauthorized != nil {
				onUnauthorized(err)
			}
			return err
		}
		m.failLocked(err)
		return err
	}

	m.conn = conn
	m.state = chat.ConnConnected
	m.attempt = 0
	m.offline = false
	onEvent := m.onEvent
	snap, listeners = m.snapshotLocked(nil)
	m.mu.Unlock()

	m.logger.Info("connected", "url", creds.URL)
	go m.readLoop(conn, gen, onEvent)
	notify(listeners, snap)
	return nil
}

// failLocked handles a dial or read failure. Called with m.mu held; releases it.
func (m *Manager) failLocked(cause error) {
	m.conn = nil
	m.state = chat.ConnDisconnected

	var fireOffline func()
	if m.attempt < m.maxAttempts {
		m.attempt++
		delay := m.backoff.Delay(m.attempt)
		gen := m.gen
		m.retry = m.clock.AfterFunc(delay, func() { m.reconnect(gen) })
		m.logger.Warn("connection lost, reconnect scheduled",
			"error", cause,
			"attempt", m.attempt,
			"max_attempts", m.maxAttempts,
			"delay", delay,
		)
	} else if !m.offline {
		m.offline = true
		fireOffline = m.onOffline
		m.logger.Error("reconnect attempts exhausted, offline",
			"error", cause,
			"attempts", m.attempt,
		)
	}

	snap, listeners := m.snapshotLocked(cause)
	m.mu.Unlock()

	notify(listeners, snap)
	if fireOffline != nil {
		fireOffline()
	}
}

func (m *Manager) reconnect(gen int64) {
	m.mu.Lock()
	if gen != m.gen || m.terminated || m.state != chat.ConnDisconnected {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()
	if err := m.dialLocked(ctx); err != nil {
		m.logger.Debug("reconnect failed", "error", err)
	}
}

func (m *Manager) readLoop(conn transport.Conn, gen int64, onEvent func(transport.Envelope)) {
	for {
		e, err := conn.Read()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}
		if onEvent != nil {
			onEvent(e)
		}
	}
}

func (m *Manager) connectionLost(gen int64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.failLocked(fmt.Errorf("read: %w", err))
	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) cancelRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) snapshotLocked(err error) (Snapshot, []func(Snapshot)) {
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	return Snapshot{State: m.state, ReconnectAttempt: m.attempt, Err: err}, listeners
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
