package engine

import (
	"fmt"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/connection"
)

// SendResult is the outcome of one durable send, reported back to the
// session through the event queue.
type SendResult struct {
	ProvisionalID string
	RoomID        string
	Resp          *api.SendResponse
	Err           error
}

// SendText inserts a provisional text message into the room timeline and
// starts the durable send. It returns the provisional entry immediately.
//
// While the connection is not CONNECTED the entry is kept PENDING and sent
// once it is.
func (s *Session) SendText(roomID, body string) (chat.Message, error) {
	body = chat.NormalizeBody(body)
	if body == "" {
		return chat.Message{}, ErrEmptyBody
	}
	return s.send(roomID, chat.KindText, body, "", s.textGuard)
}

// SendMedia inserts a provisional media message referencing the local file
// and starts the upload. Uploads that do not finish within the media
// timeout are marked FAILED.
func (s *Session) SendMedia(roomID, localRef string, kind chat.Kind) (chat.Message, error) {
	if !kind.IsMedia() {
		return chat.Message{}, fmt.Errorf("send media: %q is not a media kind", kind)
	}
	if localRef == "" {
		return chat.Message{}, fmt.Errorf("send media: local reference is required")
	}
	return s.send(roomID, kind, filepath.Base(localRef), localRef, s.mediaGuard)
}

func (s *Session) send(roomID string, kind chat.Kind, body, localRef string, guard *rate.Limiter) (chat.Message, error) {
	if roomID == "" {
		return chat.Message{}, fmt.Errorf("send: room id is required")
	}
	s.mu.Lock()
	defer s.unlock()

	if err := s.usableLocked(); err != nil {
		return chat.Message{}, err
	}
	if guard != nil && !guard.AllowN(s.clock.Now(), 1) {
		s.metrics.DuplicateSend(kind)
		s.logger.Info("duplicate send dropped", "room", roomID, "kind", kind)
		return chat.Message{}, ErrDuplicateSend
	}

	m := s.newEntryLocked(roomID, kind, body, localRef)
	return *m, nil
}

// Retry resends a FAILED message as a fresh provisional entry. The failed
// entry is removed; it is never resurrected.
func (s *Session) Retry(roomID, id string) (chat.Message, error) {
	s.mu.Lock()
	defer s.unlock()

	if err := s.usableLocked(); err != nil {
		return chat.Message{}, err
	}
	old := s.pending.get(id)
	if old == nil || old.RoomID != roomID || old.State != chat.StateFailed {
		return chat.Message{}, ErrNotRetryable
	}

	s.pending.remove(old.ID)
	s.roomLocked(roomID).remove(old.ID)
	s.persistDeleteLocked(roomID, old.ID)
	s.journalLocked("retry", roomID, old.ID, nil)

	m := s.newEntryLocked(roomID, old.Kind, old.Body, old.LocalRef)
	s.logger.Info("retrying send", "room", roomID, "failed_id", old.ID, "id", m.ID)
	return *m, nil
}

// newEntryLocked builds a provisional entry, inserts it into the timeline
// and pending set, and dispatches it if connected.
func (s *Session) newEntryLocked(roomID string, kind chat.Kind, body, localRef string) *chat.Message {
	now := s.clock.Now()
	m := &chat.Message{
		ID:          s.ids.ProvisionalID(kind, now),
		RoomID:      roomID,
		SenderID:    s.userID,
		Kind:        kind,
		Body:        body,
		CreatedAt:   now,
		State:       chat.StatePending,
		LocalRef:    localRef,
		ClientToken: s.ids.Token(),
		Seq:         s.seq.Next(),
	}

	s.roomLocked(roomID).insert(m)
	s.pending.add(m)
	s.metrics.Sent(kind)
	s.metrics.SetPending(s.pending.len())
	s.journalLocked("send", roomID, m.ID, map[string]any{"kind": string(kind), "token": m.ClientToken})
	s.logger.Debug("optimistic insert", "room", roomID, "id", m.ID, "kind", kind)

	if s.conn == chat.ConnConnected {
		s.dispatchLocked(m)
	} else {
		s.persistLocked(m)
		s.logger.Info("queued send while disconnected", "room", roomID, "id", m.ID)
	}
	s.markDirtyLocked(roomID)
	return m
}

// dispatchLocked moves an entry to SENDING and starts its durable call.
func (s *Session) dispatchLocked(m *chat.Message) {
	m.State = chat.StateSending
	s.persistLocked(m)

	roomID, id := m.RoomID, m.ID
	if m.Kind.IsMedia() && s.mediaTimeout > 0 {
		s.sendTimers[id] = s.clock.AfterFunc(s.mediaTimeout, func() {
			s.queue.Enqueue(Event{Type: EventTypeSendTimeout, RoomID: roomID, ProvisionalID: id})
		})
	}

	ctx := s.ctx
	kind, body, localRef, token := m.Kind, m.Body, m.LocalRef, m.ClientToken
	s.deferLocked(func() {
		s.exec.Go("send", func() {
			var resp *api.SendResponse
			var err error
			if kind.IsMedia() {
				resp, err = s.api.SendMediaMessage(ctx, roomID, api.MediaUpload{
					Path:        localRef,
					Kind:        kind,
					ClientToken: token,
				})
			} else {
				resp, err = s.api.SendMessage(ctx, roomID, body, token)
			}
			s.queue.Enqueue(Event{
				Type:          EventTypeSendResult,
				RoomID:        roomID,
				ProvisionalID: id,
				Result:        &SendResult{ProvisionalID: id, RoomID: roomID, Resp: resp, Err: err},
			})
		})
	})
	s.pulseLocked()
}

// flushOutboxLocked dispatches PENDING entries in the order they were created.
func (s *Session) flushOutboxLocked() {
	queued := s.pending.inState(chat.StatePending)
	for _, m := range queued {
		s.dispatchLocked(m)
	}
	if len(queued) > 0 {
		s.logger.Info("flushed outbox", "messages", len(queued))
		s.journalLocked("outbox_flush", "", "", map[string]any{"messages": len(queued)})
	}
}

func (s *Session) stopSendTimerLocked(id string) {
	if t, ok := s.sendTimers[id]; ok {
		t.Stop()
		delete(s.sendTimers, id)
	}
}

// handleSendResultLocked applies the outcome of a durable send.
//
// A response carrying a full server message goes through reconciliation so
// ack and broadcast share one merge rule. An id-only response confirms the
// entry in place. Late results for FAILED entries upgrade them in place.
func (s *Session) handleSendResultLocked(r *SendResult) {
	entry := s.pending.get(r.ProvisionalID)
	if entry != nil {
		s.stopSendTimerLocked(entry.ID)
	}

	if r.Err != nil {
		if connection.IsUnauthorized(r.Err) {
			s.terminateLocked(NewAuthError(r.Err))
			return
		}
		if entry == nil || entry.State != chat.StateSending {
			s.logger.Debug("ignoring failure for settled send", "id", r.ProvisionalID, "error", r.Err)
			return
		}
		s.failLocked(entry, r.Err, "rejected")
		return
	}

	if r.Resp == nil {
		s.logger.Warn("send succeeded without a response", "id", r.ProvisionalID)
		return
	}

	if r.Resp.Message != nil {
		msg := *r.Resp.Message
		if msg.RoomID == "" {
			msg.RoomID = r.RoomID
		}
		if msg.ClientToken == "" && entry != nil {
			msg.ClientToken = entry.ClientToken
		}
		if err := chat.ValidateInbound("send-ack", &msg); err != nil {
			s.dropLocked("send-ack", err)
		} else {
			s.reconcileLocked(msg, sourceAck)
			return
		}
	}

	if entry == nil {
		// Already reconciled by an echo, or replaced by Retry.
		s.logger.Debug("ack for settled send", "id", r.ProvisionalID, "message_id", r.Resp.MessageID)
		return
	}
	if r.Resp.MessageID == "" {
		s.logger.Warn("ack without message id", "id", entry.ID)
		return
	}
	s.confirmLocked(entry, r.Resp.MessageID)
}

// confirmLocked turns a provisional entry into the durable one by mutating
// its id in place. If the durable id is already in the timeline (the echo
// won the race) the provisional entry is dropped instead.
func (s *Session) confirmLocked(entry *chat.Message, durableID string) {
	tl := s.roomLocked(entry.RoomID)
	oldID := entry.ID
	s.pending.remove(oldID)
	s.metrics.SetPending(s.pending.len())

	if existing := tl.get(durableID); existing != nil {
		tl.remove(oldID)
		s.persistDeleteLocked(entry.RoomID, oldID)
		s.journalLocked("dedup", entry.RoomID, durableID, map[string]any{"provisional_id": oldID})
		s.logger.Debug("ack after echo, dropped provisional", "id", oldID, "message_id", durableID)
		s.markDirtyLocked(entry.RoomID)
		return
	}

	wasFailed := entry.State == chat.StateFailed
	entry.ID = durableID
	entry.State = chat.StateConfirmed
	entry.LocalRef = ""
	s.persistReplaceLocked(oldID, entry)

	s.metrics.Confirmed("ack", entry.Kind, s.clock.Now().Sub(entry.CreatedAt))
	s.journalLocked("confirm", entry.RoomID, durableID, map[string]any{
		"provisional_id": oldID,
		"path":           "ack",
		"late":           wasFailed,
	})
	s.logger.Info("message confirmed", "room", entry.RoomID, "provisional_id", oldID, "id", durableID)
	s.markDirtyLocked(entry.RoomID)
}

func (s *Session) handleSendTimeoutLocked(id string) {
	delete(s.sendTimers, id)
	entry := s.pending.get(id)
	if entry == nil || entry.State != chat.StateSending {
		return
	}
	s.failLocked(entry, errSendTimeout, "timeout")
}

// failLocked marks an entry FAILED. It stays visible and in the pending set
// but only matched by the createdAt window when no SENDING entry fits.
func (s *Session) failLocked(entry *chat.Message, cause error, reason string) {
	entry.State = chat.StateFailed
	s.persistLocked(entry)
	s.metrics.Failed(reason)
	s.journalLocked("send_failed", entry.RoomID, entry.ID, map[string]any{"reason": reason, "error": cause.Error()})
	s.logger.Warn("send failed", "room", entry.RoomID, "id", entry.ID, "reason", reason, "error", cause)
	s.markDirtyLocked(entry.RoomID)

	if fn := s.signals.SendFailed; fn != nil {
		snap := *entry
		err := NewSendFailedError(entry, cause)
		s.deferLocked(func() { fn(snap, err) })
	}
}
