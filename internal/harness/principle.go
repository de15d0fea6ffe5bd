package harness

import (
	"fmt"

	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/engine"
)

// Principle is a property every session must hold between events.
type Principle struct {
	Name  string
	Check func(v *SessionView) []string
}

// SessionView is the state the principles inspect.
type SessionView struct {
	User      string
	Timelines map[string][]chat.Message
	Pending   []chat.Message
	Typing    []string
}

// Principles lists the properties checked after every scenario step.
var Principles = []Principle{
	{Name: "unique ids", Check: checkUniqueIDs},
	{Name: "createdAt order", Check: checkOrder},
	{Name: "pending entries visible", Check: checkPendingVisible},
	{Name: "confirmed ids are durable", Check: checkConfirmedDurable},
	{Name: "no self typing", Check: checkNoSelfTyping},
}

// CheckPrinciples inspects the session and returns one message per
// violated principle instance.
func CheckPrinciples(s *engine.Session, user string, rooms []string) []string {
	v := &SessionView{
		User:      user,
		Timelines: make(map[string][]chat.Message, len(rooms)),
		Pending:   s.Pending(),
		Typing:    s.TypingPeers(),
	}
	for _, room := range rooms {
		v.Timelines[room] = s.Timeline(room)
	}
	return v.Check()
}

// Check runs every principle against the view.
func (v *SessionView) Check() []string {
	var out []string
	for _, p := range Principles {
		for _, msg := range p.Check(v) {
			out = append(out, fmt.Sprintf("principle %q violated: %s", p.Name, msg))
		}
	}
	return out
}

// A timeline never holds two entries with the same id.
func checkUniqueIDs(v *SessionView) []string {
	var out []string
	for room, tl := range v.Timelines {
		seen := make(map[string]bool, len(tl))
		for _, m := range tl {
			if seen[m.ID] {
				out = append(out, fmt.Sprintf("room %s holds %s twice", room, m.ID))
			}
			seen[m.ID] = true
		}
	}
	return out
}

// Timelines are sorted by createdAt, then insertion.
func checkOrder(v *SessionView) []string {
	var out []string
	for room, tl := range v.Timelines {
		for i := 1; i < len(tl); i++ {
			prev, cur := tl[i-1], tl[i]
			if cur.CreatedAt.Before(prev.CreatedAt) ||
				(cur.CreatedAt.Equal(prev.CreatedAt) && cur.Seq < prev.Seq) {
				out = append(out, fmt.Sprintf("room %s: %s sorts before %s", room, cur.ID, prev.ID))
			}
		}
	}
	return out
}

// Every pending entry is visible in its room's timeline.
func checkPendingVisible(v *SessionView) []string {
	var out []string
	for _, p := range v.Pending {
		tl, ok := v.Timelines[p.RoomID]
		if !ok {
			continue
		}
		found := false
		for _, m := range tl {
			if m.ID == p.ID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("pending %s missing from room %s", p.ID, p.RoomID))
		}
		if p.State == chat.StateConfirmed {
			out = append(out, fmt.Sprintf("pending %s is CONFIRMED", p.ID))
		}
	}
	return out
}

// CONFIRMED entries carry server ids.
func checkConfirmedDurable(v *SessionView) []string {
	var out []string
	for room, tl := range v.Timelines {
		for _, m := range tl {
			if m.State == chat.StateConfirmed && m.IsProvisional() {
				out = append(out, fmt.Sprintf("room %s: %s is CONFIRMED with a provisional id", room, m.ID))
			}
		}
	}
	return out
}

func checkNoSelfTyping(v *SessionView) []string {
	for _, p := range v.Typing {
		if p == v.User {
			return []string{"own user listed as typing"}
		}
	}
	return nil
}
