package engine

import (
	"github.com/roach88/chatsync/internal/chat"
)

// Input reports the current content of the compose field of the active
// room. The empty to non-empty transition emits typing start; a stop
// follows after the quiet period without further input, or immediately
// when the field is cleared.
func (s *Session) Input(text string) {
	s.mu.Lock()
	defer s.unlock()

	if s.activeRoom == "" || s.usableLocked() != nil {
		return
	}
	action := s.typing.LocalInput(text, s.clock.Now())
	if s.typing.LocalTyping() {
		s.scheduleQuietLocked()
	} else if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
	s.emitTypingLocked(action)
}

// Blur stops local typing immediately.
func (s *Session) Blur() {
	s.mu.Lock()
	defer s.unlock()

	if s.activeRoom == "" {
		return
	}
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
	s.emitTypingLocked(s.typing.Blur())
}

func (s *Session) scheduleQuietLocked() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
	}
	s.quietTimer = s.clock.AfterFunc(s.typingQuiet, func() {
		s.queue.Enqueue(Event{Type: EventTypeTypingQuiet})
	})
}

func (s *Session) handleTypingQuietLocked() {
	s.quietTimer = nil
	action := s.typing.QuietElapsed(s.clock.Now())
	if action == TypingNone && s.typing.LocalTyping() {
		// Input arrived after this timer was armed.
		s.scheduleQuietLocked()
		return
	}
	s.emitTypingLocked(action)
}

func (s *Session) emitTypingLocked(action TypingAction) {
	if action == TypingNone || s.activeRoom == "" {
		return
	}
	s.emitLocked(chat.EventTyping, chat.TypingSignal{
		RoomID:   s.activeRoom,
		IsTyping: action == TypingStart,
	})
}

// handlePeerTypingLocked merges a peer typing event into the active room's
// typing set. Own echoes and events for other rooms are ignored.
func (s *Session) handlePeerTypingLocked(p chat.UserTyping) {
	if p.UserID == s.userID || s.activeRoom == "" {
		return
	}
	if p.RoomID != "" && p.RoomID != s.activeRoom {
		return
	}
	if !s.typing.PeerTyping(p.UserID, p.IsTyping, s.clock.Now()) {
		if p.IsTyping {
			s.scheduleSweepLocked()
		}
		return
	}
	s.scheduleSweepLocked()
	s.typingChangedLocked()
}

func (s *Session) handleTypingSweepLocked() {
	s.sweepTimer = nil
	if s.typing.Sweep(s.clock.Now()) {
		s.typingChangedLocked()
	}
	s.scheduleSweepLocked()
}

// scheduleSweepLocked arms the sweep timer for the earliest peer expiry.
func (s *Session) scheduleSweepLocked() {
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.sweepTimer = nil
	}
	next, ok := s.typing.NextExpiry()
	if !ok {
		return
	}
	delay := next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.sweepTimer = s.clock.AfterFunc(delay, func() {
		s.queue.Enqueue(Event{Type: EventTypeTypingSweep})
	})
}

func (s *Session) typingChangedLocked() {
	peers := s.typing.Peers()
	s.metrics.SetTypingPeers(len(peers))
	if fn := s.signals.TypingChanged; fn != nil {
		room := s.activeRoom
		s.deferLocked(func() { fn(room, peers) })
	}
}

func (s *Session) stopTypingTimersLocked() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
		s.sweepTimer = nil
	}
}
