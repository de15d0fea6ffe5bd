package engine

import (
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/connection"
)

// source identifies where an inbound server message came from.
type source string

const (
	sourceNewMessage  source = chat.EventNewMessage
	sourceMessageSent source = chat.EventMessageSent
	sourceAck         source = "send-ack"
	sourceHistory     source = "chat-messages"
)

// reconcileLocked merges one authoritative server message into its room.
//
//  1. An entry sent with the same client token is resolved exactly.
//  2. Otherwise an own message is matched against SENDING entries of the
//     same room, kind and sender by createdAt window. Bodies are never
//     compared; media bodies differ between client and server. With no
//     SENDING match, a FAILED entry in the window is the same send whose
//     reply was lost and is upgraded in place.
//  3. A matched entry is replaced at its timeline position.
//  4. Unmatched messages are skipped when the durable id or the
//     (sender, createdAt, kind) triple is already present; otherwise they
//     are inserted in createdAt order.
//  5. Inserted or replaced messages that are own, or in the active room,
//     are marked read. History hydration never marks read.
func (s *Session) reconcileLocked(in chat.Message, src source) {
	in.State = chat.StateConfirmed
	in.LocalRef = ""
	in.Seq = 0

	isOwn := in.SenderID == s.userID
	tl := s.roomLocked(in.RoomID)

	path := "token"
	entry := s.pending.byToken(in.ClientToken)
	if entry != nil && entry.RoomID != in.RoomID {
		s.logger.Warn("client token matched an entry in another room",
			"token", in.ClientToken,
			"room", in.RoomID,
			"entry_room", entry.RoomID,
		)
		entry = nil
	}
	if entry == nil && isOwn {
		path = "window"
		entry = s.pending.matchOwn(&in, s.matchWindow)
	}
	if entry == nil && isOwn && tl.get(in.ID) == nil {
		path = "failed"
		entry = s.pending.matchFailed(&in, s.matchWindow)
	}

	changed := false
	switch {
	case entry != nil:
		changed = s.resolveLocked(tl, entry, in, path)

	default:
		if existing := tl.findConfirmed(&in); existing != nil {
			s.refreshLocked(tl, existing, in)
			s.metrics.Received("duplicate")
			s.logger.Debug("duplicate delivery", "room", in.RoomID, "id", in.ID, "source", string(src))
			return
		}
		m := in
		m.Seq = s.seq.Next()
		tl.insert(&m)
		s.persistLocked(&m)
		s.metrics.Received("inserted")
		if src != sourceHistory {
			s.journalLocked("insert", in.RoomID, in.ID, map[string]any{"source": string(src), "own": isOwn})
		}
		changed = true
	}

	if !changed {
		return
	}
	s.markDirtyLocked(in.RoomID)
	if src != sourceHistory && (isOwn || in.RoomID == s.activeRoom) {
		s.markReadLocked(in.RoomID, in.ID)
	}
}

// resolveLocked replaces a provisional entry with its server counterpart in
// place and removes it from the pending set. If the durable id is already
// present the provisional entry is dropped and the present one refreshed.
func (s *Session) resolveLocked(tl *timeline, entry *chat.Message, in chat.Message, path string) bool {
	oldID := entry.ID
	wasFailed := entry.State == chat.StateFailed
	s.pending.remove(oldID)
	s.stopSendTimerLocked(oldID)
	s.metrics.SetPending(s.pending.len())

	if existing := tl.get(in.ID); existing != nil && existing != entry {
		tl.remove(oldID)
		s.persistDeleteLocked(in.RoomID, oldID)
		s.refreshLocked(tl, existing, in)
		s.journalLocked("dedup", in.RoomID, in.ID, map[string]any{"provisional_id": oldID})
		s.logger.Debug("dropped provisional, durable id already present", "provisional_id", oldID, "id", in.ID)
		return true
	}

	i := tl.indexOf(oldID)
	if i < 0 {
		// The room timeline lost the entry; treat the message as new.
		in.Seq = s.seq.Next()
		tl.insert(&in)
	} else {
		in.Seq = entry.Seq
		m := in
		tl.replace(i, &m)
	}
	s.persistReplaceLocked(oldID, &in)

	s.metrics.Received("replaced")
	s.metrics.Confirmed(path, in.Kind, s.clock.Now().Sub(entry.CreatedAt))
	s.journalLocked("confirm", in.RoomID, in.ID, map[string]any{
		"provisional_id": oldID,
		"path":           path,
		"late":           wasFailed,
	})
	s.logger.Info("message reconciled",
		"room", in.RoomID,
		"provisional_id", oldID,
		"id", in.ID,
		"path", path,
	)
	return true
}

// refreshLocked copies server-owned fields onto an entry already present.
func (s *Session) refreshLocked(tl *timeline, existing *chat.Message, in chat.Message) {
	if existing.Body == in.Body &&
		existing.ReadCount >= in.ReadCount &&
		existing.CreatedAt.Equal(in.CreatedAt) {
		return
	}
	existing.Body = in.Body
	existing.CreatedAt = in.CreatedAt
	if in.ReadCount > existing.ReadCount {
		existing.ReadCount = in.ReadCount
	}
	if existing.ClientToken == "" {
		existing.ClientToken = in.ClientToken
	}
	tl.sort()
	s.persistLocked(existing)
	s.markDirtyLocked(existing.RoomID)
}

// markReadLocked fires a best-effort mark-as-read and a liveness pulse.
func (s *Session) markReadLocked(roomID, messageID string) {
	ctx := s.ctx
	s.deferLocked(func() {
		s.exec.Go("mark-read", func() {
			err := s.api.MarkAsRead(ctx, roomID, messageID)
			if err == nil {
				return
			}
			if connection.IsUnauthorized(err) {
				s.queue.Enqueue(Event{Type: EventTypeUnauthorized, Err: err})
				return
			}
			s.logger.Debug("mark as read failed", "room", roomID, "id", messageID, "error", err)
		})
	})
	s.pulseLocked()
}
