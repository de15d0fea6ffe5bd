package engine

import (
	"slices"

	"github.com/roach88/chatsync/internal/chat"
)

// timeline is the ordered message list of one room.
//
// Entries are kept sorted ascending by (CreatedAt, Seq). Provisional entries
// are shared with the pending set, so in-place mutation is visible to both.
type timeline struct {
	roomID string
	msgs   []*chat.Message
}

func newTimeline(roomID string) *timeline {
	return &timeline{roomID: roomID}
}

func (tl *timeline) indexOf(id string) int {
	return slices.IndexFunc(tl.msgs, func(m *chat.Message) bool { return m.ID == id })
}

func (tl *timeline) get(id string) *chat.Message {
	if i := tl.indexOf(id); i >= 0 {
		return tl.msgs[i]
	}
	return nil
}

// findConfirmed looks up a durable entry by id, then by the (sender, createdAt,
// kind) triple.
func (tl *timeline) findConfirmed(m *chat.Message) *chat.Message {
	if existing := tl.get(m.ID); existing != nil {
		return existing
	}
	key := m.Key()
	for _, e := range tl.msgs {
		if !e.IsProvisional() && e.Key() == key {
			return e
		}
	}
	return nil
}

func (tl *timeline) insert(m *chat.Message) {
	tl.msgs = append(tl.msgs, m)
	tl.sort()
}

// replace swaps the entry at index i, keeping its position unless the new
// createdAt moves it.
func (tl *timeline) replace(i int, m *chat.Message) {
	tl.msgs[i] = m
	tl.sort()
}

func (tl *timeline) remove(id string) bool {
	i := tl.indexOf(id)
	if i < 0 {
		return false
	}
	tl.msgs = slices.Delete(tl.msgs, i, i+1)
	return true
}

func (tl *timeline) sort() {
	slices.SortStableFunc(tl.msgs, compareMessages)
}

// snapshot returns copies safe to hand outside the session lock.
func (tl *timeline) snapshot() []chat.Message {
	out := make([]chat.Message, len(tl.msgs))
	for i, m := range tl.msgs {
		out[i] = *m
	}
	return out
}

func compareMessages(a, b *chat.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}
