package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/clock"
)

const (
	// DefaultHeartbeatInterval is the pulse period while in the foreground.
	DefaultHeartbeatInterval = 60 * time.Second

	// MinHeartbeatInterval is the lowest accepted pulse period.
	MinHeartbeatInterval = 10 * time.Second

	DefaultPulseTimeout = 15 * time.Second
)

// Pulser posts one liveness pulse. *api.Client satisfies it.
type Pulser interface {
	Heartbeat(ctx context.Context) error
}

// Heartbeat keeps the user marked online with periodic pulses.
//
// Pulses run through the configured runner (a new goroutine by default).
// An unauthorized pulse stops the keeper for good and fires the
// unauthorized callback exactly once.
type Heartbeat struct {
	pulser  Pulser
	clock   clock.Clock
	run     func(func())
	timeout time.Duration
	logger  *slog.Logger

	mu             sync.Mutex
	active         bool
	interval       time.Duration
	timer          clock.Timer
	gen            int64
	lastPulse      time.Time
	terminated     bool
	onUnauthorized func(error)
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithHeartbeatClock sets the clock used for scheduling pulses.
func WithHeartbeatClock(c clock.Clock) HeartbeatOption {
	return func(h *Heartbeat) { h.clock = c }
}

// WithRunner sets how pulses are executed. Tests pass an inline runner.
func WithRunner(run func(func())) HeartbeatOption {
	return func(h *Heartbeat) { h.run = run }
}

// WithPulseTimeout bounds a single pulse request.
func WithPulseTimeout(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) { h.timeout = d }
}

// WithHeartbeatLogger sets the structured logger.
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) { h.logger = l }
}

// NewHeartbeat creates an inactive keeper.
func NewHeartbeat(p Pulser, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		pulser:  p,
		clock:   clock.Real{},
		run:     func(f func()) { go f() },
		timeout: DefaultPulseTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnUnauthorized sets the session-termination callback.
func (h *Heartbeat) OnUnauthorized(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnauthorized = fn
}

// Start fires one pulse immediately and then every interval.
// Calling Start while active replaces the previous schedule.
func (h *Heartbeat) Start(interval time.Duration) error {
	if interval < MinHeartbeatInterval {
		return ErrIntervalTooShort
	}

	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return ErrTerminated
	}
	h.stopLocked()
	h.active = true
	h.interval = interval
	h.gen++
	h.scheduleLocked(h.gen)
	h.mu.Unlock()

	h.logger.Debug("heartbeat started", "interval", interval)
	h.run(func() { h.pulse() })
	return nil
}

// Stop cancels the schedule. In-flight pulses still record their result.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		h.logger.Debug("heartbeat stopped")
	}
	h.stopLocked()
}

// Terminate stops the keeper for good without firing the callback.
// Used when the session ended through another path.
func (h *Heartbeat) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	h.stopLocked()
}

// PulseNow sends one out-of-schedule pulse. Failures are logged only.
func (h *Heartbeat) PulseNow() {
	h.mu.Lock()
	terminated := h.terminated
	h.mu.Unlock()
	if terminated {
		return
	}
	h.run(func() { h.pulse() })
}

// IsActive reports whether pulses are scheduled.
func (h *Heartbeat) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// LastPulseAt returns the time of the last successful pulse.
func (h *Heartbeat) LastPulseAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPulse
}

// Interval returns the configured period of the current or last schedule.
func (h *Heartbeat) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

func (h *Heartbeat) stopLocked() {
	h.active = false
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *Heartbeat) scheduleLocked(gen int64) {
	h.timer = h.clock.AfterFunc(h.interval, func() { h.tick(gen) })
}

func (h *Heartbeat) tick(gen int64) {
	h.mu.Lock()
	if !h.active || gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.scheduleLocked(gen)
	h.mu.Unlock()

	h.run(func() { h.pulse() })
}

func (h *Heartbeat) pulse() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err := h.pulser.Heartbeat(ctx)

	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	if err == nil {
		h.lastPulse = h.clock.Now()
		h.mu.Unlock()
		return
	}
	if !IsUnauthorized(err) {
		h.mu.Unlock()
		h.logger.Warn("heartbeat failed", "error", err)
		return
	}

	h.terminated = true
	h.stopLocked()
	cb := h.onUnauthorized
	h.mu.Unlock()

	h.logger.Warn("heartbeat unauthorized, ending session", "error", err)
	if cb != nil {
		cb(err)
	}
}
