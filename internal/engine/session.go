package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/clock"
	"github.com/roach88/chatsync/internal/connection"
	"github.com/roach88/chatsync/internal/metrics"
	"github.com/roach88/chatsync/internal/store"
	"github.com/roach88/chatsync/internal/transport"
)

// API is the durable REST collaborator. *api.Client satisfies it.
type API interface {
	connection.Pulser
	SendMessage(ctx context.Context, roomID, content, clientToken string) (*api.SendResponse, error)
	SendMediaMessage(ctx context.Context, roomID string, up api.MediaUpload) (*api.SendResponse, error)
	ChatMessages(ctx context.Context, roomID string) ([]chat.Message, error)
	MarkAsRead(ctx context.Context, roomID, messageID string) error
}

// Store persists room history and the session event log. *store.Store
// satisfies it.
type Store interface {
	SaveMessage(ctx context.Context, m chat.Message) error
	ReplaceMessage(ctx context.Context, roomID, oldID string, m chat.Message) error
	DeleteMessage(ctx context.Context, roomID, id string) error
	RoomMessages(ctx context.Context, roomID string) ([]chat.Message, error)
	MaxSeq(ctx context.Context) (int64, error)
	AppendEvent(ctx context.Context, e store.Event) error
}

// Session is the chat sync engine of one authenticated user.
//
// Thread-safety model:
//   - user commands (SendText, JoinRoom, ...) may be called from any goroutine
//   - transport frames, durable call results, timers and connection changes
//     are enqueued and applied by Run (or Drain) one at a time
//   - all state is guarded by one mutex; the connection manager, heartbeat
//     and Signals are only called after it is released
type Session struct {
	userID    string
	api       API
	manager   *connection.Manager
	heartbeat *connection.Heartbeat
	queue     *eventQueue
	seq       *Sequence
	ctx       context.Context
	cancel    context.CancelFunc

	clock             clock.Clock
	ids               chat.IDGenerator
	exec              Executor
	store             Store
	metrics           *metrics.Metrics
	logger            *slog.Logger
	signals           Signals
	sessionID         string
	matchWindow       time.Duration
	mediaTimeout      time.Duration
	textDedup         time.Duration
	mediaDedup        time.Duration
	typingQuiet       time.Duration
	typingTTL         time.Duration
	debounce          time.Duration
	heartbeatInterval time.Duration
	pulseTimeout      time.Duration
	backoff           connection.Backoff
	maxAttempts       int
	dialTimeout       time.Duration
	receipts          *ReceiptAggregator

	mu         sync.Mutex
	closed     bool
	terminated error
	foreground bool
	conn       chat.ConnState
	activeRoom string
	rooms      map[string]*timeline
	pending    *pendingSet
	sendTimers map[string]clock.Timer
	typing     *TypingTracker
	quietTimer clock.Timer
	sweepTimer clock.Timer
	dirty      map[string]bool
	flushTimer clock.Timer
	textGuard  *rate.Limiter
	mediaGuard *rate.Limiter

	// actions run in order once the lock is released.
	actions []func()
}

// New creates a disconnected session for userID.
func New(userID string, client API, dialer transport.Dialer, opts ...Option) *Session {
	s := &Session{
		userID:            userID,
		api:               client,
		queue:             newEventQueue(),
		clock:             clock.Real{},
		ids:               chat.RandomIDGenerator{},
		exec:              GoExecutor{},
		logger:            slog.Default(),
		matchWindow:       DefaultMatchWindow,
		mediaTimeout:      DefaultMediaTimeout,
		mediaDedup:        DefaultMediaDedupWindow,
		typingQuiet:       DefaultTypingQuiet,
		typingTTL:         DefaultTypingTTL,
		debounce:          DefaultTimelineDebounce,
		heartbeatInterval: connection.DefaultHeartbeatInterval,
		pulseTimeout:      connection.DefaultPulseTimeout,
		backoff:           connection.DefaultBackoff,
		maxAttempts:       connection.DefaultMaxReconnectAttempts,
		dialTimeout:       connection.DefaultDialTimeout,
		receipts:          NewReceiptAggregator(ReceiptModeCounter),
		foreground:        true,
		conn:              chat.ConnDisconnected,
		rooms:             make(map[string]*timeline),
		pending:           newPendingSet(),
		sendTimers:        make(map[string]clock.Timer),
		dirty:             make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = s.logger.With("user", userID)
	if s.sessionID == "" {
		s.sessionID = uuid.Must(uuid.NewV7()).String()
	}
	s.typing = NewTypingTracker(s.typingQuiet, s.typingTTL)
	s.textGuard = newGuard(s.textDedup)
	s.mediaGuard = newGuard(s.mediaDedup)

	s.seq = NewSequence()
	if s.store != nil {
		if max, err := s.store.MaxSeq(s.ctx); err != nil {
			s.logger.Warn("read max seq", "error", err)
		} else {
			s.seq = NewSequenceAt(max)
		}
	}

	s.manager = connection.NewManager(dialer,
		connection.WithClock(s.clock),
		connection.WithBackoff(s.backoff),
		connection.WithMaxReconnectAttempts(s.maxAttempts),
		connection.WithDialTimeout(s.dialTimeout),
		connection.WithLogger(s.logger),
	)
	s.manager.OnStateChange(func(snap connection.Snapshot) {
		s.queue.Enqueue(Event{Type: EventTypeConnState, Conn: snap})
	})
	s.manager.OnEvent(func(e transport.Envelope) {
		s.queue.Enqueue(Event{Type: EventTypeFrame, Frame: e})
	})
	s.manager.OnOffline(func() {
		s.queue.Enqueue(Event{Type: EventTypeOffline})
	})
	s.manager.OnUnauthorized(func(err error) {
		s.queue.Enqueue(Event{Type: EventTypeUnauthorized, Err: err})
	})

	s.heartbeat = connection.NewHeartbeat(client,
		connection.WithHeartbeatClock(s.clock),
		connection.WithRunner(func(f func()) { s.exec.Go("heartbeat", f) }),
		connection.WithPulseTimeout(s.pulseTimeout),
		connection.WithHeartbeatLogger(s.logger),
	)
	s.heartbeat.OnUnauthorized(func(err error) {
		s.queue.Enqueue(Event{Type: EventTypeUnauthorized, Err: err})
	})

	return s
}

// newGuard returns a limiter admitting one send per window, or nil when
// the window is zero.
func newGuard(window time.Duration) *rate.Limiter {
	if window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(window), 1)
}

// UserID returns the signed-in user.
func (s *Session) UserID() string {
	return s.userID
}

// SessionID returns the id recorded in the event log.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Heartbeat exposes the liveness keeper.
func (s *Session) Heartbeat() *connection.Heartbeat {
	return s.heartbeat
}

// Connect opens the event channel and starts the heartbeat. It is a no-op
// while a connection is open or being opened.
//
// A failed dial is returned but a reconnect is already scheduled.
func (s *Session) Connect(ctx context.Context, creds connection.Credentials) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch st := s.manager.State().State; st {
	case chat.ConnConnected, chat.ConnConnecting:
		s.logger.Debug("connect ignored", "state", st)
		return nil
	}
	s.logger.Info("session connecting", "url", creds.URL)

	err := s.manager.Connect(ctx, creds)
	if errors.Is(err, connection.ErrTerminated) {
		if uerr := s.usable(); uerr != nil {
			return uerr
		}
		return err
	}
	if connection.IsUnauthorized(err) {
		return fmt.Errorf("connect: %w", err)
	}
	s.startHeartbeat()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Reconnect retries the connection on explicit user request.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.manager.Retry(ctx)
}

// Foreground reconnects eagerly and restarts the heartbeat, which pulses
// immediately.
func (s *Session) Foreground(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	s.mu.Lock()
	s.foreground = true
	s.journalLocked("foreground", "", "", nil)
	s.mu.Unlock()

	err := s.manager.Foreground(ctx)
	s.startHeartbeat()
	return err
}

// Background stops the heartbeat. The event channel stays open.
func (s *Session) Background() {
	s.mu.Lock()
	s.foreground = false
	s.journalLocked("background", "", "", nil)
	s.mu.Unlock()

	s.heartbeat.Stop()
}

func (s *Session) startHeartbeat() {
	s.mu.Lock()
	fg := s.foreground
	s.mu.Unlock()
	if !fg {
		return
	}
	if err := s.heartbeat.Start(s.heartbeatInterval); err != nil && !errors.Is(err, connection.ErrTerminated) {
		s.logger.Error("start heartbeat", "error", err)
	}
}

// ConnectionState returns the connection manager's snapshot.
func (s *Session) ConnectionState() connection.Snapshot {
	return s.manager.State()
}

// AppliedConnState returns the connection state the session last applied.
// It trails ConnectionState until queued transitions are processed.
func (s *Session) AppliedConnState() chat.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Close disconnects, cancels every timer and stops Run.
// In-flight durable calls are cancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimersLocked()
	s.journalLocked("close", "", "", nil)
	s.mu.Unlock()

	s.heartbeat.Stop()
	s.manager.Disconnect()
	s.cancel()
	s.queue.Close()
	s.logger.Info("session closed")
	return nil
}

func (s *Session) stopTimersLocked() {
	for id, t := range s.sendTimers {
		t.Stop()
		delete(s.sendTimers, id)
	}
	s.stopTypingTimersLocked()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// usable returns the error user commands fail with once the session ended.
func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usableLocked()
}

func (s *Session) usableLocked() error {
	if s.terminated != nil {
		return s.terminated
	}
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Run applies queued events until ctx is cancelled or the session is closed.
//
// Must be called from exactly one goroutine. A failing event is logged and
// processing continues.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session loop starting")

	for {
		event, ok := s.queue.TryDequeue()
		if ok {
			if err := s.processEvent(event); err != nil {
				logEventError(s.logger, event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("session loop stopping: context cancelled")
			return ctx.Err()

		case <-s.queue.Wait():
			if s.queue.Len() == 0 && s.isClosed() {
				s.logger.Info("session loop stopping: closed")
				return nil
			}
		}
	}
}

// Deliver enqueues an inbound frame as if it arrived on the event channel.
// Returns false once the session is closed.
func (s *Session) Deliver(e transport.Envelope) bool {
	return s.queue.Enqueue(Event{Type: EventTypeFrame, Frame: e})
}

// Drain applies queued events until the queue is empty, including events
// enqueued while draining. Tests use it instead of Run.
func (s *Session) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		event, ok := s.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := s.processEvent(event); err != nil {
			logEventError(s.logger, event, err)
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// processEvent routes one queued event to its handler.
func (s *Session) processEvent(ev Event) error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return nil
	}

	switch ev.Type {
	case EventTypeFrame:
		return s.handleFrameLocked(ev.Frame)
	case EventTypeSendResult:
		if ev.Result == nil {
			return fmt.Errorf("send result event missing result")
		}
		s.handleSendResultLocked(ev.Result)
	case EventTypeSendTimeout:
		s.handleSendTimeoutLocked(ev.ProvisionalID)
	case EventTypeConnState:
		s.handleConnStateLocked(ev.Conn)
	case EventTypeOffline:
		s.handleOfflineLocked()
	case EventTypeTypingQuiet:
		s.handleTypingQuietLocked()
	case EventTypeTypingSweep:
		s.handleTypingSweepLocked()
	case EventTypeTimelineFlush:
		s.flushLocked()
	case EventTypeHistory:
		return s.handleHistoryLocked(ev.RoomID, ev.History, ev.Err)
	case EventTypeUnauthorized:
		s.terminateLocked(NewAuthError(ev.Err))
	default:
		return fmt.Errorf("unknown event type: %d", ev.Type)
	}
	return nil
}

func logEventError(logger *slog.Logger, ev Event, err error) {
	logger.Error("event processing failed",
		"type", ev.Type.String(),
		"room", ev.RoomID,
		"provisional_id", ev.ProvisionalID,
		"error", err,
	)
}

// unlock releases the session lock and then runs the deferred actions.
func (s *Session) unlock() {
	acts := s.actions
	s.actions = nil
	s.mu.Unlock()
	for _, fn := range acts {
		fn()
	}
}

func (s *Session) deferLocked(fn func()) {
	s.actions = append(s.actions, fn)
}

// emitLocked sends an outbound frame once the lock is released.
// Failures are logged; frames are never queued.
func (s *Session) emitLocked(event string, payload any) {
	env, err := transport.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Error("encode outbound event", "event", event, "error", err)
		return
	}
	s.deferLocked(func() {
		if err := s.manager.Send(s.ctx, env); err != nil {
			s.logger.Debug("outbound event not sent", "event", event, "error", err)
		}
	})
}

// pulseLocked requests a best-effort liveness pulse.
func (s *Session) pulseLocked() {
	if !s.foreground || s.terminated != nil {
		return
	}
	s.deferLocked(s.heartbeat.PulseNow)
}

// JoinRoom makes roomID the active room: the previous room is left, local
// history is loaded and the server history is fetched and merged.
func (s *Session) JoinRoom(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("join room: room id is required")
	}
	s.mu.Lock()
	defer s.unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	if s.activeRoom == roomID {
		return nil
	}
	if s.activeRoom != "" {
		s.leaveLocked()
	}

	s.activeRoom = roomID
	s.roomLocked(roomID)
	s.journalLocked("join_room", roomID, "", nil)
	s.logger.Info("joined room", "room", roomID)

	if s.conn == chat.ConnConnected {
		s.emitLocked(chat.EventJoinRoom, chat.RoomRef{RoomID: roomID})
	}
	s.pulseLocked()
	s.fetchHistoryLocked(roomID)
	s.markDirtyLocked(roomID)
	return nil
}

// LeaveRoom tears down the active room's subscriptions: the leave-room
// event is sent, typing state and pending timeline notifications are
// cleared. In-flight sends are not cancelled.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.unlock()

	if s.activeRoom == "" || s.closed {
		return
	}
	s.leaveLocked()
}

func (s *Session) leaveLocked() {
	roomID := s.activeRoom
	if s.typing.Reset() {
		s.emitLocked(chat.EventTyping, chat.TypingSignal{RoomID: roomID, IsTyping: false})
	}
	s.stopTypingTimersLocked()
	s.metrics.SetTypingPeers(0)

	delete(s.dirty, roomID)
	if len(s.dirty) == 0 && s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}

	s.activeRoom = ""
	s.emitLocked(chat.EventLeaveRoom, chat.RoomRef{RoomID: roomID})
	s.pulseLocked()
	s.journalLocked("leave_room", roomID, "", nil)
	s.logger.Info("left room", "room", roomID)
}

// ActiveRoom returns the joined room, or "".
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// Timeline returns a copy of a room's timeline sorted by createdAt.
func (s *Session) Timeline(roomID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return tl.snapshot()
}

// Pending returns copies of the unconfirmed entries in insertion order.
func (s *Session) Pending() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.pending.ordered()
	out := make([]chat.Message, len(entries))
	for i, m := range entries {
		out[i] = *m
	}
	return out
}

// TypingPeers returns the peers typing in the active room.
func (s *Session) TypingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.Peers()
}

// roomLocked returns a room's timeline, creating it from local history on
// first use.
func (s *Session) roomLocked(roomID string) *timeline {
	if tl, ok := s.rooms[roomID]; ok {
		return tl
	}
	tl := newTimeline(roomID)
	s.rooms[roomID] = tl
	if s.store == nil {
		return tl
	}

	msgs, err := s.store.RoomMessages(s.ctx, roomID)
	if err != nil {
		s.logger.Warn("load room history", "room", roomID, "error", err)
		return tl
	}
	queued := 0
	for i := range msgs {
		m := msgs[i]
		if m.IsProvisional() {
			// Outcome of a send from an earlier session is unknown.
			if m.State == chat.StateSending {
				m.State = chat.StateFailed
			}
			if m.State == chat.StatePending {
				queued++
			}
			s.pending.add(&m)
		}
		tl.msgs = append(tl.msgs, &m)
	}
	tl.sort()
	s.metrics.SetPending(s.pending.len())
	s.logger.Debug("loaded room history", "room", roomID, "messages", len(msgs), "queued", queued)

	// Connecting flushed the outbox before these entries were known.
	if queued > 0 && s.conn == chat.ConnConnected {
		s.flushOutboxLocked()
	}
	return tl
}

func (s *Session) fetchHistoryLocked(roomID string) {
	ctx := s.ctx
	s.deferLocked(func() {
		s.exec.Go("history", func() {
			msgs, err := s.api.ChatMessages(ctx, roomID)
			s.queue.Enqueue(Event{Type: EventTypeHistory, RoomID: roomID, History: msgs, Err: err})
		})
	})
}

func (s *Session) handleHistoryLocked(roomID string, msgs []chat.Message, err error) error {
	if err != nil {
		if connection.IsUnauthorized(err) {
			s.terminateLocked(NewAuthError(err))
			return nil
		}
		return fmt.Errorf("fetch history for room %s: %w", roomID, err)
	}
	for i := range msgs {
		m := msgs[i]
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		if verr := chat.ValidateInbound("chat-messages", &m); verr != nil {
			s.dropLocked("chat-messages", verr)
			continue
		}
		s.reconcileLocked(m, sourceHistory)
	}
	s.journalLocked("history", roomID, "", map[string]any{"messages": len(msgs)})
	return nil
}

// handleConnStateLocked applies a connection transition: CONNECTED rejoins
// the active room and flushes the outbox, DISCONNECTED resets typing.
func (s *Session) handleConnStateLocked(snap connection.Snapshot) {
	prev := s.conn
	s.conn = snap.State
	s.metrics.SetConnState(snap.State)
	if prev != snap.State {
		detail := map[string]any{"state": string(snap.State), "attempt": snap.ReconnectAttempt}
		if snap.Err != nil {
			detail["error"] = snap.Err.Error()
		}
		s.journalLocked("connection", "", "", detail)
	}
	if fn := s.signals.ConnectionChanged; fn != nil {
		s.deferLocked(func() { fn(snap) })
	}

	switch snap.State {
	case chat.ConnConnected:
		if prev == chat.ConnConnected {
			return
		}
		if s.activeRoom != "" {
			s.emitLocked(chat.EventJoinRoom, chat.RoomRef{RoomID: s.activeRoom})
		}
		s.flushOutboxLocked()

	case chat.ConnDisconnected:
		s.typing.Reset()
		s.stopTypingTimersLocked()
		s.metrics.SetTypingPeers(0)
		if fn := s.signals.TypingChanged; fn != nil && s.activeRoom != "" {
			room := s.activeRoom
			s.deferLocked(func() { fn(room, nil) })
		}
	}
}

func (s *Session) handleOfflineLocked() {
	err := NewOfflineError()
	s.journalLocked("offline", "", "", nil)
	s.logger.Warn("session offline")
	if fn := s.signals.Offline; fn != nil {
		s.deferLocked(func() { fn(err) })
	}
}

// terminateLocked ends the session on an authentication failure. The
// termination signal fires exactly once.
func (s *Session) terminateLocked(err *SessionError) {
	if s.terminated != nil {
		return
	}
	s.terminated = err
	s.stopTimersLocked()
	s.metrics.Terminated()
	s.journalLocked("terminated", "", "", map[string]any{"error": err.Error()})
	s.logger.Error("session terminated", "error", err)

	s.deferLocked(func() {
		s.heartbeat.Terminate()
		s.manager.Terminate()
		if fn := s.signals.SessionTerminated; fn != nil {
			fn(err)
		}
	})
}

// Terminated returns the error that ended the session, or nil.
func (s *Session) Terminated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated == nil {
		return nil
	}
	return s.terminated
}

// markDirtyLocked schedules a TimelineChanged notification for roomID.
func (s *Session) markDirtyLocked(roomID string) {
	s.dirty[roomID] = true
	if s.debounce <= 0 {
		s.flushLocked()
		return
	}
	if s.flushTimer == nil {
		s.flushTimer = s.clock.AfterFunc(s.debounce, func() {
			s.queue.Enqueue(Event{Type: EventTypeTimelineFlush})
		})
	}
}

func (s *Session) flushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if len(s.dirty) == 0 {
		return
	}
	rooms := make([]string, 0, len(s.dirty))
	for room := range s.dirty {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	clear(s.dirty)

	fn := s.signals.TimelineChanged
	if fn == nil {
		return
	}
	for _, room := range rooms {
		tl, ok := s.rooms[room]
		if !ok {
			continue
		}
		room, snap := room, tl.snapshot()
		s.deferLocked(func() { fn(room, snap) })
	}
}

// dropLocked logs and counts a malformed inbound event.
func (s *Session) dropLocked(event string, err error) {
	s.metrics.Dropped(event)
	s.journalLocked("dropped", "", "", map[string]any{"event": event, "error": err.Error()})
	s.logger.Warn("dropping malformed event",
		"event", event,
		"code", string(ErrCodeMalformedEvent),
		"error", err,
	)
}

// journalLocked appends an entry to the session event log.
func (s *Session) journalLocked(kind, roomID, messageID string, detail map[string]any) {
	if s.store == nil {
		return
	}
	err := s.store.AppendEvent(s.ctx, store.Event{
		SessionID: s.sessionID,
		At:        s.clock.Now(),
		Kind:      kind,
		RoomID:    roomID,
		MessageID: messageID,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("append session event", "kind", kind, "error", err)
	}
}

// persistLocked writes a message to local history.
func (s *Session) persistLocked(m *chat.Message) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveMessage(s.ctx, *m); err != nil {
		s.logger.Warn("save message", "room", m.RoomID, "id", m.ID, "error", err)
	}
}

func (s *Session) persistReplaceLocked(oldID string, m *chat.Message) {
	if s.store == nil {
		return
	}
	if err := s.store.ReplaceMessage(s.ctx, m.RoomID, oldID, *m); err != nil {
		s.logger.Warn("replace message", "room", m.RoomID, "old_id", oldID, "id", m.ID, "error", err)
	}
}

func (s *Session) persistDeleteLocked(roomID, id string) {
	if s.store == nil {
		return
	}
	if err := s.store.DeleteMessage(s.ctx, roomID, id); err != nil {
		s.logger.Warn("delete message", "room", roomID, "id", id, "error", err)
	}
}
