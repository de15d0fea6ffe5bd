package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/testutil"
	"github.com/roach88/chatsync/internal/transport"
)

// harnessCreds are the credentials every scenario connects with.
var harnessCreds = connection.Credentials{URL: "ws://harness.test/ws", Token: "harness"}

// dropWait bounds how long a drop step waits for the read loop to notice.
const dropWait = time.Second

// Harness is the test execution engine.
// It runs one scenario against a real session wired to fake network
// dependencies, a fake clock and an in-memory store.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	session  *engine.Session
	clock    *testutil.FakeClock
	api      *testutil.FakeAPI
	dialer   *testutil.FakeDialer
	exec     *testutil.ManualExecutor
	logger   *slog.Logger

	// names maps "as" labels to the entry the step created.
	names map[string]chat.Message
	// rooms records every room a step touched.
	rooms map[string]bool

	mu      sync.Mutex
	signals map[string]int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create fresh in-memory database, fake clock and fake network
//  2. Execute steps, draining the session queue after each
//  3. Check session principles after every step
//  4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewFakeClock(time.UnixMilli(scenario.StartMS).UTC()),
		api:      testutil.NewFakeAPI(),
		dialer:   testutil.NewFakeDialer(),
		exec:     testutil.NewManualExecutor(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		names:    make(map[string]chat.Message),
		rooms:    make(map[string]bool),
		signals:  make(map[string]int),
	}
	for room, msgs := range scenario.History {
		h.rooms[room] = true
		history := make([]chat.Message, 0, len(msgs))
		for _, spec := range msgs {
			m, err := h.message(spec, room)
			if err != nil {
				return nil, fmt.Errorf("history %s: %w", room, err)
			}
			history = append(history, m)
		}
		h.api.SetHistory(room, history)
	}

	h.session = engine.New(scenario.User, h.api, h.dialer, h.options()...)
	defer h.session.Close()

	ctx := context.Background()
	result := NewResult(scenario.Name)

	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		if step.ExpectError != "" {
			switch {
			case err == nil:
				result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", i, step.Op, step.ExpectError))
			case !strings.Contains(err.Error(), step.ExpectError):
				result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q", i, step.Op, step.ExpectError, err))
			}
		} else if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}

		if err := h.session.Drain(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: drain: %w", i, step.Op, err)
		}
		for _, violation := range CheckPrinciples(h.session, scenario.User, h.touchedRooms()) {
			result.AddError(fmt.Sprintf("after steps[%d] %s: %s", i, step.Op, violation))
		}
		h.logger.Debug("step executed", "step", i, "op", step.Op)
	}

	for _, room := range h.touchedRooms() {
		result.Timelines[room] = h.session.Timeline(room)
	}
	h.mu.Lock()
	for k, v := range h.signals {
		result.Signals[k] = v
	}
	h.mu.Unlock()

	events, err := st.Events(ctx, h.session.SessionID())
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	for _, e := range events {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:       e.Seq,
			Kind:      e.Kind,
			RoomID:    e.RoomID,
			MessageID: e.MessageID,
		})
	}

	actx := &AssertionContext{
		Session: h.session,
		Dialer:  h.dialer,
		Resolve: h.resolve,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// RunAll runs scenarios in order. A scenario that cannot be executed yields
// a failed result carrying the error.
func RunAll(scenarios []*Scenario) []*Result {
	results := make([]*Result, 0, len(scenarios))
	for _, s := range scenarios {
		r, err := Run(s)
		if err != nil {
			r = NewResult(s.Name)
			r.AddError(err.Error())
		}
		results = append(results, r)
	}
	return results
}

func (h *Harness) options() []engine.Option {
	o := h.scenario.Options
	opts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(h.scenario.Suffixes...)),
		engine.WithExecutor(h.exec),
		engine.WithStore(h.store),
		engine.WithLogger(h.logger),
		engine.WithSessionID("harness-" + h.scenario.Name),
		engine.WithSignals(h.signalRecorder()),
	}
	if o.MatchWindowMS > 0 {
		opts = append(opts, engine.WithMatchWindow(ms(o.MatchWindowMS)))
	}
	if o.MediaTimeoutMS > 0 {
		opts = append(opts, engine.WithMediaTimeout(ms(o.MediaTimeoutMS)))
	}
	if o.TextDedupMS > 0 || o.MediaDedupMS > 0 {
		media := engine.DefaultMediaDedupWindow
		if o.MediaDedupMS > 0 {
			media = ms(o.MediaDedupMS)
		}
		opts = append(opts, engine.WithDedupWindows(ms(o.TextDedupMS), media))
	}
	if o.TypingQuietMS > 0 || o.TypingTTLMS > 0 {
		quiet, ttl := engine.DefaultTypingQuiet, engine.DefaultTypingTTL
		if o.TypingQuietMS > 0 {
			quiet = ms(o.TypingQuietMS)
		}
		if o.TypingTTLMS > 0 {
			ttl = ms(o.TypingTTLMS)
		}
		opts = append(opts, engine.WithTyping(quiet, ttl))
	}
	if o.TimelineDebounceMS > 0 {
		opts = append(opts, engine.WithTimelineDebounce(ms(o.TimelineDebounceMS)))
	}
	if o.ReceiptMode != "" {
		opts = append(opts, engine.WithReceiptMode(engine.ReceiptMode(o.ReceiptMode)))
	}
	return opts
}

func (h *Harness) signalRecorder() engine.Signals {
	count := func(name string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.signals[name]++
	}
	return engine.Signals{
		TimelineChanged:   func(string, []chat.Message) { count(SignalTimelineChanged) },
		SendFailed:        func(chat.Message, error) { count(SignalSendFailed) },
		Offline:           func(error) { count(SignalOffline) },
		SessionTerminated: func(error) { count(SignalSessionTerminated) },
		TypingChanged:     func(string, []string) { count(SignalTypingChanged) },
	}
}

// execute applies one step to the session.
func (h *Harness) execute(ctx context.Context, st Step) error {
	if st.Room != "" {
		h.rooms[st.Room] = true
	}

	switch st.Op {
	case OpConnect:
		return h.session.Connect(ctx, harnessCreds)

	case OpDrop:
		conn := h.dialer.Last()
		if conn == nil {
			return errors.New("no connection to drop")
		}
		conn.Drop(nil)
		deadline := time.Now().Add(dropWait)
		for {
			if err := h.session.Drain(ctx); err != nil {
				return err
			}
			if h.session.AppliedConnState() != chat.ConnConnected {
				return nil
			}
			if time.Now().After(deadline) {
				return errors.New("connection did not notice the drop")
			}
			time.Sleep(time.Millisecond)
		}

	case OpJoin:
		return h.session.JoinRoom(st.Room)

	case OpLeave:
		h.session.LeaveRoom()
		return nil

	case OpSendText:
		m, err := h.session.SendText(st.Room, st.Body)
		if err == nil {
			h.remember(st.As, m)
		}
		return err

	case OpSendMedia:
		kind := chat.KindImage
		if st.Kind != "" {
			kind = chat.Kind(st.Kind)
		}
		m, err := h.session.SendMedia(st.Room, st.Path, kind)
		if err == nil {
			h.remember(st.As, m)
		}
		return err

	case OpRetry:
		id := h.resolve(st.Ref)
		room := st.Room
		if named, ok := h.names[strings.TrimPrefix(st.Ref, "$")]; ok && room == "" {
			room = named.RoomID
		}
		m, err := h.session.Retry(room, id)
		if err == nil {
			h.remember(st.As, m)
		}
		return err

	case OpHoldSends:
		h.exec.Hold("send")
		return nil

	case OpReleaseSends:
		h.exec.RunAll("send")
		return nil

	case OpQueueSend:
		r := testutil.SendResult{}
		if st.Error != "" {
			r.Err = parseError(st.Error)
		} else {
			r.Resp = &api.SendResponse{MessageID: st.MessageID}
			if st.Message != nil {
				m, err := h.message(*st.Message, st.Room)
				if err != nil {
					return err
				}
				r.Resp.Message = &m
				if r.Resp.MessageID == "" {
					r.Resp.MessageID = m.ID
				}
			}
		}
		h.api.QueueSend(r)
		return nil

	case OpHeartbeatError:
		h.api.QueueHeartbeat(parseError(st.Error))
		return nil

	case OpAdvance:
		h.clock.Advance(ms(int(st.MS)))
		return nil

	case OpDeliver:
		env, err := h.envelope(st)
		if err != nil {
			return err
		}
		if !h.session.Deliver(env) {
			return errors.New("session is closed")
		}
		return nil

	case OpInput:
		h.session.Input(st.Body)
		return nil

	case OpBlur:
		h.session.Blur()
		return nil

	case OpBackground:
		h.session.Background()
		return nil

	case OpForeground:
		return h.session.Foreground(ctx)
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) envelope(st Step) (transport.Envelope, error) {
	if st.Raw != "" {
		return transport.Envelope{Event: st.Event, Data: json.RawMessage(st.Raw)}, nil
	}

	var payload any
	switch st.Event {
	case chat.EventNewMessage, chat.EventMessageSent:
		m, err := h.message(*st.Message, st.Room)
		if err != nil {
			return transport.Envelope{}, err
		}
		payload = m
	case chat.EventUserTyping:
		payload = chat.UserTyping{UserID: st.User, RoomID: st.Room, IsTyping: st.Typing}
	case chat.EventMessageRead:
		payload = chat.MessageRead{MessageID: h.resolve(st.Ref), ReaderID: st.Reader}
	case chat.EventUserJoined:
		payload = chat.UserJoined{UserID: st.User, RoomID: st.Room}
	case chat.EventError:
		payload = chat.ServerError{Message: st.Body}
	default:
		payload = map[string]any{}
	}
	return transport.NewEnvelope(st.Event, payload)
}

// message converts a scenario message, defaulting the room and kind.
func (h *Harness) message(spec MessageSpec, room string) (chat.Message, error) {
	if spec.Room != "" {
		room = spec.Room
	}
	if room == "" {
		return chat.Message{}, fmt.Errorf("message %q: room is required", spec.ID)
	}
	h.rooms[room] = true

	kind := chat.KindText
	if spec.Kind != "" {
		k, err := chat.ParseKind(spec.Kind)
		if err != nil {
			return chat.Message{}, err
		}
		kind = k
	}

	token := spec.Token
	if isRef(token) {
		named, ok := h.names[strings.TrimPrefix(token, "$")]
		if !ok {
			return chat.Message{}, fmt.Errorf("unknown send %q", token)
		}
		token = named.ClientToken
	}

	return chat.Message{
		ID:          spec.ID,
		RoomID:      room,
		SenderID:    spec.Sender,
		Kind:        kind,
		Body:        spec.Body,
		CreatedAt:   time.UnixMilli(spec.AtMS).UTC(),
		ReadCount:   spec.Reads,
		ClientToken: token,
	}, nil
}

func (h *Harness) remember(name string, m chat.Message) {
	h.rooms[m.RoomID] = true
	if name != "" {
		h.names[name] = m
	}
}

// resolve maps "$name" to the provisional id of that send. Other values
// are returned unchanged.
func (h *Harness) resolve(ref string) string {
	if !isRef(ref) {
		return ref
	}
	if m, ok := h.names[strings.TrimPrefix(ref, "$")]; ok {
		return m.ID
	}
	return ref
}

func (h *Harness) touchedRooms() []string {
	rooms := make([]string, 0, len(h.rooms))
	for r := range h.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// parseError maps a scenario error string to the error the fakes return.
func parseError(s string) error {
	switch {
	case s == "unauthorized":
		return api.ErrUnauthorized
	case strings.HasPrefix(s, "status:"):
		code, err := strconv.Atoi(strings.TrimPrefix(s, "status:"))
		if err == nil {
			return &api.StatusError{StatusCode: code, Message: s}
		}
	}
	return errors.New(s)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
