package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/testutil"
	"github.com/roach88/chatsync/internal/transport"
)

var testCreds = Credentials{URL: "ws://chat.test/ws", Token: "secret"}

type stateRecorder struct {
	mu     sync.Mutex
	states []chat.ConnState
}

func (r *stateRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *stateRecorder) get() []chat.ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.ConnState, len(r.states))
	copy(out, r.states)
	return out
}

func newTestManager(t *testing.T) (*Manager, *testutil.FakeDialer, *testutil.FakeClock) {
	t.Helper()
	d := testutil.NewFakeDialer()
	clk := testutil.NewFakeClock(time.Time{})
	m := NewManager(d,
		WithClock(clk),
		WithBackoff(Backoff{Base: time.Second, Max: 30 * time.Second}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(m.Disconnect)
	return m, d, clk
}

func TestManager_ConnectTransitions(t *testing.T) {
	m, d, _ := newTestManager(t)
	rec := &stateRecorder{}
	m.OnStateChange(rec.record)

	require.NoError(t, m.Connect(context.Background(), testCreds))

	assert.Equal(t, chat.ConnConnected, m.State().State)
	assert.Equal(t, []chat.ConnState{chat.ConnConnecting, chat.ConnConnected}, rec.get())
	assert.Equal(t, 1, d.DialCount())
}

func TestManager_ConnectIdempotentWhenConnected(t *testing.T) {
	m, d, _ := newTestManager(t)

	require.NoError(t, m.Connect(context.Background(), testCreds))
	require.NoError(t, m.Connect(context.Background(), testCreds))
	require.NoError(t, m.Connect(context.Background(), testCreds))

	assert.Equal(t, 1, d.DialCount())
}

func TestManager_ConnectWhileConnectingDoesNotDialTwice(t *testing.T) {
	m, d, _ := newTestManager(t)
	d.Hold()

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), testCreds) }()

	require.Eventually(t, func() bool {
		return m.State().State == chat.ConnConnecting
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Connect(context.Background(), testCreds))
	d.Release()
	require.NoError(t, <-done)

	assert.Equal(t, 1, d.DialCount())
	assert.Equal(t, chat.ConnConnected, m.State().State)
}

func TestManager_DialErrorSchedulesReconnect(t *testing.T) {
	m, d, clk := newTestManager(t)
	d.FailNext(errors.New("refused"))

	err := m.Connect(context.Background(), testCreds)
	require.Error(t, err)

	snap := m.State()
	assert.Equal(t, chat.ConnDisconnected, snap.State)
	assert.Equal(t, 1, snap.ReconnectAttempt)

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, d.DialCount())

	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, d.DialCount())
	assert.Equal(t, chat.ConnConnected, m.State().State)
	assert.Equal(t, 0, m.State().ReconnectAttempt)
}

func TestManager_DialTimeoutBoundsReconnect(t *testing.T) {
	d := testutil.NewFakeDialer()
	clk := testutil.NewFakeClock(time.Time{})
	m := NewManager(d,
		WithClock(clk),
		WithBackoff(Backoff{Base: time.Second, Max: 30 * time.Second}),
		WithDialTimeout(20*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	t.Cleanup(m.Disconnect)

	d.FailNext(errors.New("refused"))
	require.Error(t, m.Connect(context.Background(), testCreds))

	d.Hold()
	t.Cleanup(d.Release)
	start := time.Now()
	clk.Advance(time.Second)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 2, d.DialCount())
	snap := m.State()
	assert.Equal(t, chat.ConnDisconnected, snap.State)
	assert.Equal(t, 2, snap.ReconnectAttempt, "a timed out dial schedules the next attempt")
}

func TestManager_BackoffMonotonicAndBounded(t *testing.T) {
	m, d, clk := newTestManager(t)
	failures := make([]error, 10)
	for i := range failures {
		failures[i] = fmt.Errorf("refused %d", i)
	}
	d.FailNext(failures...)

	offline := 0
	m.OnOffline(func() { offline++ })

	_ = m.Connect(context.Background(), testCreds)

	// Retries fire at +1s, +2s, +4s, +8s, +16s.
	var dialTimes []time.Duration
	start := clk.Now()
	for i := 0; i < 120; i++ {
		before := d.DialCount()
		clk.Advance(time.Second)
		if d.DialCount() > before {
			dialTimes = append(dialTimes, clk.Now().Sub(start))
		}
	}

	require.Len(t, dialTimes, DefaultMaxReconnectAttempts)
	for i := 1; i < len(dialTimes); i++ {
		gapPrev := dialTimes[i-1]
		if i > 1 {
			gapPrev = dialTimes[i-1] - dialTimes[i-2]
		}
		gap := dialTimes[i] - dialTimes[i-1]
		assert.GreaterOrEqual(t, gap, gapPrev)
	}

	assert.Equal(t, 1+DefaultMaxReconnectAttempts, d.DialCount())
	assert.Equal(t, 1, offline)
	assert.Equal(t, 0, clk.PendingTimers())
}

func TestManager_RetryAfterOffline(t *testing.T) {
	m, d, clk := newTestManager(t)
	m2 := WithMaxReconnectAttempts(1)
	m2(m)
	d.FailNext(errors.New("a"), errors.New("b"))

	offline := 0
	m.OnOffline(func() { offline++ })

	_ = m.Connect(context.Background(), testCreds)
	clk.Advance(time.Minute)
	require.Equal(t, 1, offline)
	require.Equal(t, 2, d.DialCount())

	require.NoError(t, m.Retry(context.Background()))
	assert.Equal(t, chat.ConnConnected, m.State().State)
	assert.Equal(t, 3, d.DialCount())
}

func TestManager_ForegroundCancelsBackoff(t *testing.T) {
	m, d, clk := newTestManager(t)
	d.FailNext(errors.New("refused"))

	_ = m.Connect(context.Background(), testCreds)
	require.Equal(t, 1, clk.PendingTimers())

	require.NoError(t, m.Foreground(context.Background()))
	assert.Equal(t, chat.ConnConnected, m.State().State)
	assert.Equal(t, 0, clk.PendingTimers())
	assert.Equal(t, 2, d.DialCount())
}

func TestManager_ForegroundWithoutCredentialsIsNoop(t *testing.T) {
	m, d, _ := newTestManager(t)
	require.NoError(t, m.Foreground(context.Background()))
	assert.Equal(t, 0, d.DialCount())
}

func TestManager_UnauthorizedHandshakeTerminates(t *testing.T) {
	m, d, clk := newTestManager(t)
	d.FailNext(fmt.Errorf("dial: %w", transport.ErrUnauthorized))

	var got []error
	m.OnUnauthorized(func(err error) { got = append(got, err) })

	err := m.Connect(context.Background(), testCreds)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	require.Len(t, got, 1)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, d.DialCount())
	assert.ErrorIs(t, m.Connect(context.Background(), testCreds), ErrTerminated)
	assert.ErrorIs(t, m.Retry(context.Background()), ErrTerminated)
}

func TestManager_DropTriggersReconnect(t *testing.T) {
	m, d, clk := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), testCreds))

	d.Last().Drop(errors.New("reset"))
	require.Eventually(t, func() bool {
		return m.State().State == chat.ConnDisconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.State().ReconnectAttempt)

	clk.Advance(time.Second)
	assert.Equal(t, chat.ConnConnected, m.State().State)
	assert.Equal(t, 2, d.DialCount())
}

func TestManager_DisconnectDoesNotReconnect(t *testing.T) {
	m, d, clk := newTestManager(t)
	require.NoError(t, m.Connect(context.Background(), testCreds))
	conn := d.Last()

	m.Disconnect()
	assert.True(t, conn.Closed())
	assert.Equal(t, chat.ConnDisconnected, m.State().State)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, d.DialCount())
}

func TestManager_EventsForwarded(t *testing.T) {
	m, d, _ := newTestManager(t)
	got := make(chan transport.Envelope, 1)
	m.OnEvent(func(e transport.Envelope) { got <- e })

	require.NoError(t, m.Connect(context.Background(), testCreds))
	d.Last().Push(transport.Envelope{Event: chat.EventUserJoined})

	select {
	case e := <-got:
		assert.Equal(t, chat.EventUserJoined, e.Event)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestManager_Send(t *testing.T) {
	m, d, _ := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.Send(ctx, transport.Envelope{Event: chat.EventJoinRoom}), ErrNotConnected)

	require.NoError(t, m.Connect(ctx, testCreds))
	require.NoError(t, m.Send(ctx, transport.Envelope{Event: chat.EventJoinRoom}))
	assert.Equal(t, []string{chat.EventJoinRoom}, d.Last().WrittenEvents())
}
