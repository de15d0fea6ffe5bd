package engine

import (
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/transport"
)

// handleFrameLocked decodes and applies one inbound event-channel frame.
// Malformed frames are dropped and logged; they never stop the loop.
func (s *Session) handleFrameLocked(env transport.Envelope) error {
	switch env.Event {
	case chat.EventNewMessage, chat.EventMessageSent:
		var m chat.Message
		if err := env.Decode(&m); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		if err := chat.ValidateInbound(env.Event, &m); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		s.reconcileLocked(m, source(env.Event))

	case chat.EventUserTyping:
		var p chat.UserTyping
		if err := env.Decode(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		if err := chat.ValidateTyping(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		s.handlePeerTypingLocked(p)

	case chat.EventMessageRead:
		var p chat.MessageRead
		if err := env.Decode(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		if err := chat.ValidateRead(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		s.handleReadLocked(p)

	case chat.EventUserJoined:
		var p chat.UserJoined
		if err := env.Decode(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		s.journalLocked("user_joined", p.RoomID, "", map[string]any{"user": p.UserID})
		s.logger.Info("user joined", "room", p.RoomID, "peer", p.UserID)

	case chat.EventError:
		var p chat.ServerError
		if err := env.Decode(&p); err != nil {
			s.dropLocked(env.Event, err)
			return nil
		}
		s.journalLocked("server_error", "", "", map[string]any{"code": p.Code, "message": p.Message})
		s.logger.Warn("server reported error", "code", p.Code, "message", p.Message)

	default:
		s.logger.Debug("ignoring unknown event", "event", env.Event)
	}
	return nil
}

// handleReadLocked applies a read receipt to the addressed message. The
// active room is searched first.
func (s *Session) handleReadLocked(p chat.MessageRead) {
	m := s.findMessageLocked(p.MessageID)
	if m == nil {
		s.logger.Debug("read receipt for unknown message", "id", p.MessageID)
		return
	}
	if !s.receipts.Apply(m, p.ReaderID) {
		s.logger.Debug("duplicate read receipt", "id", p.MessageID, "reader", p.ReaderID)
		return
	}
	s.metrics.Receipt()
	s.persistLocked(m)
	s.markDirtyLocked(m.RoomID)
}

func (s *Session) findMessageLocked(id string) *chat.Message {
	if tl, ok := s.rooms[s.activeRoom]; ok {
		if m := tl.get(id); m != nil {
			return m
		}
	}
	for room, tl := range s.rooms {
		if room == s.activeRoom {
			continue
		}
		if m := tl.get(id); m != nil {
			return m
		}
	}
	return nil
}
