package harness

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/chatsync/internal/chat"
)

// TimelineSnapshot captures the final timelines of a scenario execution.
// Local-only fields (insertion stamps, client tokens, local references) are
// left out so snapshots only change when visible behavior does.
type TimelineSnapshot struct {
	Scenario string         `json:"scenario"`
	Rooms    []RoomSnapshot `json:"rooms"`
}

// RoomSnapshot is one room's timeline.
type RoomSnapshot struct {
	Room     string            `json:"room"`
	Messages []MessageSnapshot `json:"messages"`
}

// MessageSnapshot is the visible part of one timeline entry.
type MessageSnapshot struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Kind        string `json:"kind"`
	Body        string `json:"body"`
	CreatedAtMS int64  `json:"created_at_ms"`
	State       string `json:"state"`
	ReadCount   int    `json:"read_count"`
}

// Snapshot builds the snapshot of a result. Rooms without messages are
// omitted; rooms are sorted by id.
func Snapshot(result *Result) TimelineSnapshot {
	snap := TimelineSnapshot{Scenario: result.Name, Rooms: []RoomSnapshot{}}

	rooms := make([]string, 0, len(result.Timelines))
	for room, tl := range result.Timelines {
		if len(tl) > 0 {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)

	for _, room := range rooms {
		rs := RoomSnapshot{Room: room, Messages: []MessageSnapshot{}}
		for _, m := range result.Timelines[room] {
			rs.Messages = append(rs.Messages, snapshotMessage(m))
		}
		snap.Rooms = append(snap.Rooms, rs)
	}
	return snap
}

func snapshotMessage(m chat.Message) MessageSnapshot {
	return MessageSnapshot{
		ID:          m.ID,
		Sender:      m.SenderID,
		Kind:        string(m.Kind),
		Body:        m.Body,
		CreatedAtMS: m.CreatedAt.UnixMilli(),
		State:       string(m.State),
		ReadCount:   m.ReadCount,
	}
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing newline.
func MarshalSnapshot(snap TimelineSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the final timelines against
// a golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass and Errors as well.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, result)
}

// AssertGolden compares an already executed result against its golden file.
func AssertGolden(t *testing.T, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Name, data)
	return nil
}
