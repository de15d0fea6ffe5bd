package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/chat"
)

// typingFrames decodes the typing signals written on the current connection.
func (f *fixture) typingFrames() []chat.TypingSignal {
	f.t.Helper()
	var out []chat.TypingSignal
	for _, env := range f.dialer.Last().Written() {
		if env.Event != chat.EventTyping {
			continue
		}
		var sig chat.TypingSignal
		require.NoError(f.t, env.Decode(&sig))
		out = append(out, sig)
	}
	return out
}

func (f *fixture) typing(user string, on bool) {
	f.t.Helper()
	f.deliver(chat.EventUserTyping, chat.UserTyping{UserID: user, RoomID: "r1", IsTyping: on})
}

// Peer A starts typing and stops two seconds later.
func TestPresence_PeerStartThenStop(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.typing("A", true)
	assert.Equal(t, []string{"A"}, f.s.TypingPeers())

	f.advance(2 * time.Second)
	f.typing("A", false)
	assert.Empty(t, f.s.TypingPeers())

	assert.Equal(t, [][]string{{"A"}, {}}, f.rec.typing)
}

func TestPresence_PeerEntryExpires(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.typing("A", true)
	f.advance(4 * time.Second)
	f.typing("B", true)

	f.advance(time.Second)
	assert.Equal(t, []string{"B"}, f.s.TypingPeers(), "A's stop was lost; its entry expired")

	f.advance(4 * time.Second)
	assert.Empty(t, f.s.TypingPeers())
}

func TestPresence_RepeatedStartRefreshesExpiry(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.typing("A", true)
	f.advance(4 * time.Second)
	f.typing("A", true)
	f.advance(4 * time.Second)

	assert.Equal(t, []string{"A"}, f.s.TypingPeers())
	assert.Len(t, f.rec.typing, 1, "a refresh does not change the set")
}

func TestPresence_IgnoresOwnEchoAndOtherRooms(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.typing("me", true)
	f.deliver(chat.EventUserTyping, chat.UserTyping{UserID: "A", RoomID: "r2", IsTyping: true})
	assert.Empty(t, f.s.TypingPeers())

	f.deliver(chat.EventUserTyping, chat.UserTyping{UserID: "B", IsTyping: true})
	assert.Equal(t, []string{"B"}, f.s.TypingPeers(), "events without a room apply to the active room")
}

func TestPresence_PeerTypingWithoutActiveRoom(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.typing("A", true)
	assert.Empty(t, f.s.TypingPeers())
}

func TestPresence_ResetOnDisconnect(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")
	f.typing("A", true)

	f.dialer.Last().Drop(nil)
	require.Eventually(t, func() bool {
		return f.s.ConnectionState().State == chat.ConnDisconnected
	}, time.Second, time.Millisecond)
	f.drain()

	assert.Empty(t, f.s.TypingPeers())
}

func TestPresence_LocalTypingStopsAfterQuiet(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.s.Input("h")
	f.s.Input("he")
	f.advance(time.Second)
	f.s.Input("hel")

	f.advance(1500 * time.Millisecond)
	assert.Equal(t, []chat.TypingSignal{{RoomID: "r1", IsTyping: true}}, f.typingFrames(),
		"input resets the quiet period")

	f.advance(500 * time.Millisecond)
	assert.Equal(t, []chat.TypingSignal{
		{RoomID: "r1", IsTyping: true},
		{RoomID: "r1", IsTyping: false},
	}, f.typingFrames())
}

func TestPresence_ClearingInputStopsImmediately(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.s.Input("typo")
	f.s.Input("")
	f.drain()

	assert.Equal(t, []chat.TypingSignal{
		{RoomID: "r1", IsTyping: true},
		{RoomID: "r1", IsTyping: false},
	}, f.typingFrames())

	f.advance(5 * time.Second)
	assert.Len(t, f.typingFrames(), 2, "no second stop from the quiet timer")
}

func TestPresence_BlurStopsTyping(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.s.Input("x")
	f.s.Blur()
	f.s.Blur()
	f.drain()

	assert.Equal(t, []string{
		chat.EventJoinRoom, chat.EventTyping, chat.EventTyping,
	}, f.dialer.Last().WrittenEvents())
}

func TestPresence_LeaveStopsLocalTyping(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.s.Input("x")
	f.s.LeaveRoom()
	f.drain()

	written := f.dialer.Last().Written()
	require.Len(t, written, 4)
	assert.Equal(t, chat.EventLeaveRoom, written[3].Event)

	var stop chat.TypingSignal
	require.NoError(t, written[2].Decode(&stop))
	assert.Equal(t, chat.TypingSignal{RoomID: "r1", IsTyping: false}, stop)
}

func TestPresence_InputWithoutRoomIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.s.Input("hello")
	f.drain()

	assert.Empty(t, f.dialer.Last().Written())
}
