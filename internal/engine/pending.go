package engine

import (
	"slices"
	"time"

	"github.com/roach88/chatsync/internal/chat"
)

// pendingSet maps provisional ids to their timeline entries.
//
// Entries leave the set when confirmed. FAILED entries stay so they can be
// retried and so a late success can upgrade them. The createdAt window
// prefers SENDING entries and falls back to FAILED ones only for own echoes
// that nothing else claims.
type pendingSet struct {
	byID map[string]*chat.Message
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[string]*chat.Message)}
}

func (p *pendingSet) add(m *chat.Message) {
	p.byID[m.ID] = m
}

func (p *pendingSet) get(id string) *chat.Message {
	return p.byID[id]
}

func (p *pendingSet) remove(id string) {
	delete(p.byID, id)
}

func (p *pendingSet) len() int {
	return len(p.byID)
}

// byToken returns the entry sent with the given idempotency token, in any state.
func (p *pendingSet) byToken(token string) *chat.Message {
	if token == "" {
		return nil
	}
	for _, m := range p.byID {
		if m.ClientToken == token {
			return m
		}
	}
	return nil
}

// matchOwn finds the SENDING entry that best correlates with an own inbound
// message: same room, kind and sender, createdAt within window. The closest
// createdAt wins; ties go to the earliest inserted entry.
func (p *pendingSet) matchOwn(in *chat.Message, window time.Duration) *chat.Message {
	return p.closest(in, window, chat.StateSending)
}

// matchFailed finds a FAILED entry that an own echo without a match
// duplicates: a send the client gave up on but the server accepted.
func (p *pendingSet) matchFailed(in *chat.Message, window time.Duration) *chat.Message {
	return p.closest(in, window, chat.StateFailed)
}

func (p *pendingSet) closest(in *chat.Message, window time.Duration, state chat.DeliveryState) *chat.Message {
	var best *chat.Message
	var bestDelta time.Duration
	for _, m := range p.ordered() {
		if m.State != state ||
			m.RoomID != in.RoomID ||
			m.Kind != in.Kind ||
			m.SenderID != in.SenderID {
			continue
		}
		delta := in.CreatedAt.Sub(m.CreatedAt).Abs()
		if delta >= window {
			continue
		}
		if best == nil || delta < bestDelta {
			best, bestDelta = m, delta
		}
	}
	return best
}

// inState returns entries in the given state in insertion order.
func (p *pendingSet) inState(state chat.DeliveryState) []*chat.Message {
	var out []*chat.Message
	for _, m := range p.ordered() {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out
}

// ordered returns all entries by insertion stamp.
func (p *pendingSet) ordered() []*chat.Message {
	out := make([]*chat.Message, 0, len(p.byID))
	for _, m := range p.byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *chat.Message) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}
