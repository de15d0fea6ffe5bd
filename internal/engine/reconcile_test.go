package engine

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/testutil"
	"github.com/roach88/chatsync/internal/transport"
)

// The echo arrives before the ack: the entry is replaced by the echo and
// the ack finds nothing left to do.
func TestReconcile_EchoBeforeAck(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")
	f.exec.Hold("send")

	sent, err := f.s.SendText("r1", "hi")
	require.NoError(t, err)

	f.deliver(chat.EventMessageSent, f.serverMsg("551", "me", chat.KindText, "hi", testutil.Epoch.Add(300*time.Millisecond)))

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "551", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
	assert.Equal(t, sent.Seq, tl[0].Seq, "replaced in place")

	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "551"}})
	f.exec.RunAll("send")
	f.drain()

	tl = f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "551", tl[0].ID)
	assert.Empty(t, f.s.Pending())
}

// Whatever order ack, echo and broadcast arrive in, exactly one entry remains.
func TestReconcile_DeliveryOrderPermutations(t *testing.T) {
	orders := [][]string{
		{"ack", "echo", "broadcast"},
		{"ack", "broadcast", "echo"},
		{"echo", "ack", "broadcast"},
		{"echo", "broadcast", "ack"},
		{"broadcast", "ack", "echo"},
		{"broadcast", "echo", "ack"},
	}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFixture(t)
			f.connect()
			f.join("r1")
			f.exec.Hold("send")

			_, err := f.s.SendText("r1", "hello")
			require.NoError(t, err)
			f.clock.Advance(200 * time.Millisecond)
			server := f.serverMsg("551", "me", chat.KindText, "hello", testutil.Epoch.Add(150*time.Millisecond))

			for _, step := range order {
				switch step {
				case "ack":
					f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "551", Message: &server}})
					f.exec.RunAll("send")
					f.drain()
				case "echo":
					f.deliver(chat.EventMessageSent, server)
				case "broadcast":
					f.deliver(chat.EventNewMessage, server)
				}
			}

			tl := f.s.Timeline("r1")
			require.Len(t, tl, 1)
			assert.Equal(t, "551", tl[0].ID)
			assert.Equal(t, chat.StateConfirmed, tl[0].State)
			assert.Empty(t, f.s.Pending())
		})
	}
}

func TestReconcile_WindowPicksClosestEntry(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	first, err := f.s.SendText("r1", "one")
	require.NoError(t, err)
	f.clock.Advance(4 * time.Second)
	second, err := f.s.SendText("r1", "two")
	require.NoError(t, err)

	f.deliver(chat.EventMessageSent, f.serverMsg("e2", "me", chat.KindText, "two", testutil.Epoch.Add(3*time.Second)))

	assert.Equal(t, []string{first.ID, "e2"}, ids(f.s.Timeline("r1")))
	pending := f.s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Nil(t, findByID(pending, second.ID))
}

func TestReconcile_WindowTieGoesToEarliestEntry(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	first, err := f.s.SendText("r1", "same")
	require.NoError(t, err)
	_, err = f.s.SendText("r1", "same")
	require.NoError(t, err)

	f.deliver(chat.EventMessageSent, f.serverMsg("e1", "me", chat.KindText, "same", testutil.Epoch))

	assert.Nil(t, findByID(f.s.Pending(), first.ID))
	assert.Len(t, f.s.Pending(), 1)
}

func TestReconcile_OutsideWindowInsertsNew(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendText("r1", "late")
	require.NoError(t, err)

	f.deliver(chat.EventMessageSent, f.serverMsg("e1", "me", chat.KindText, "late", testutil.Epoch.Add(DefaultMatchWindow)))

	assert.Equal(t, []string{sent.ID, "e1"}, ids(f.s.Timeline("r1")))
	assert.Len(t, f.s.Pending(), 1)
}

func TestReconcile_OnlyMatchesSameKindAndSender(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	_, err := f.s.SendText("r1", "mine")
	require.NoError(t, err)

	f.deliver(chat.EventNewMessage, f.serverMsg("p1", "peer", chat.KindText, "mine", testutil.Epoch))
	f.deliver(chat.EventMessageSent, f.serverMsg("i1", "me", chat.KindImage, "x.png", testutil.Epoch))

	assert.Len(t, f.s.Timeline("r1"), 3)
	assert.Len(t, f.s.Pending(), 1)
}

// A message carrying the entry's client token resolves it regardless of
// the createdAt distance.
func TestReconcile_ClientTokenMatch(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendText("r1", "tokened")
	require.NoError(t, err)

	m := f.serverMsg("t1", "me", chat.KindText, "tokened", testutil.Epoch.Add(time.Hour))
	m.ClientToken = sent.ClientToken
	f.deliver(chat.EventNewMessage, m)

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "t1", tl[0].ID)
	assert.Empty(t, f.s.Pending())
}

func TestReconcile_TokenFromAnotherRoomIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendText("r1", "here")
	require.NoError(t, err)

	m := f.serverMsg("x1", "peer", chat.KindText, "there", testutil.Epoch)
	m.RoomID = "r2"
	m.ClientToken = sent.ClientToken
	f.deliver(chat.EventNewMessage, m)

	assert.Len(t, f.s.Pending(), 1)
	assert.Equal(t, []string{"x1"}, ids(f.s.Timeline("r2")))
}

func TestReconcile_DuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	m := f.serverMsg("p1", "peer", chat.KindText, "yo", testutil.Epoch)
	f.deliver(chat.EventNewMessage, m)
	f.deliver(chat.EventNewMessage, m)
	assert.Equal(t, []string{"p1"}, ids(f.s.Timeline("r1")), "same id")

	again := m
	again.ID = "p1-redelivered"
	f.deliver(chat.EventNewMessage, again)
	assert.Equal(t, []string{"p1"}, ids(f.s.Timeline("r1")), "same sender, createdAt and kind")

	assert.Equal(t, 1, f.api.CallCount("MarkAsRead"), "duplicates are not marked read again")
}

func TestReconcile_RedeliveryRefreshesServerFields(t *testing.T) {
	f := newFixture(t)
	f.connect()

	m := f.serverMsg("p1", "peer", chat.KindText, "yo", testutil.Epoch)
	f.deliver(chat.EventNewMessage, m)

	m.ReadCount = 3
	f.deliver(chat.EventNewMessage, m)

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, 3, tl[0].ReadCount)
}

func TestReconcile_OutOfOrderArrivalIsSorted(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	for _, id := range []string{"c", "a", "b"} {
		offset := map[string]time.Duration{"a": time.Second, "b": 2 * time.Second, "c": 3 * time.Second}[id]
		f.deliver(chat.EventNewMessage, f.serverMsg(id, "peer", chat.KindText, id, testutil.Epoch.Add(offset)))
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(f.s.Timeline("r1")))
}

func TestReconcile_MalformedFramesDropped(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	missingSender := f.serverMsg("m1", "", chat.KindText, "who", testutil.Epoch)
	provisional := f.serverMsg("temp_text_0_x", "peer", chat.KindText, "x", testutil.Epoch)
	badKind := f.serverMsg("k1", "peer", chat.Kind("sticker"), "x", testutil.Epoch)

	frames := []transport.Envelope{
		{Event: chat.EventNewMessage, Data: json.RawMessage(`{"id":`)},
		{Event: chat.EventNewMessage, Data: mustJSON(t, missingSender)},
		{Event: chat.EventNewMessage, Data: mustJSON(t, provisional)},
		{Event: chat.EventMessageSent, Data: mustJSON(t, badKind)},
		{Event: chat.EventUserTyping, Data: json.RawMessage(`{"isTyping":true}`)},
		{Event: chat.EventMessageRead, Data: json.RawMessage(`{}`)},
		{Event: "presence", Data: json.RawMessage(`{"anything":1}`)},
	}
	for _, env := range frames {
		require.True(t, f.s.Deliver(env))
	}
	f.drain()
	assert.Empty(t, f.s.Timeline("r1"))
	assert.Empty(t, f.s.TypingPeers())

	f.deliver(chat.EventNewMessage, f.serverMsg("ok", "peer", chat.KindText, "fine", testutil.Epoch))
	assert.Equal(t, []string{"ok"}, ids(f.s.Timeline("r1")), "the loop keeps going after drops")
	assert.Nil(t, f.s.Terminated())
}

func TestReconcile_MarkReadRules(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")

	f.deliver(chat.EventNewMessage, f.serverMsg("active", "peer", chat.KindText, "a", testutil.Epoch))

	other := f.serverMsg("elsewhere", "peer", chat.KindText, "b", testutil.Epoch)
	other.RoomID = "r2"
	f.deliver(chat.EventNewMessage, other)

	own := f.serverMsg("own-elsewhere", "me", chat.KindText, "c", testutil.Epoch)
	own.RoomID = "r2"
	f.deliver(chat.EventMessageSent, own)

	var marked []string
	for _, c := range f.api.Calls() {
		if c.Method == "MarkAsRead" {
			marked = append(marked, c.Arg)
		}
	}
	assert.Equal(t, []string{"active", "own-elsewhere"}, marked)
}

func TestReconcile_MarkReadUnauthorizedTerminates(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")
	f.api.SetMarkReadError(api.ErrUnauthorized)

	f.deliver(chat.EventNewMessage, f.serverMsg("p1", "peer", chat.KindText, "a", testutil.Epoch))
	f.drain()

	require.Len(t, f.rec.terminated, 1)
	assert.True(t, IsAuthError(f.s.Terminated()))
}

func TestReconcile_MarkReadFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")
	f.api.SetMarkReadError(&api.StatusError{StatusCode: 503})

	f.deliver(chat.EventNewMessage, f.serverMsg("p1", "peer", chat.KindText, "a", testutil.Epoch))
	f.drain()

	assert.Empty(t, f.rec.terminated)
	assert.Len(t, f.s.Timeline("r1"), 1)
}

func TestReconcile_ReadReceiptsCounter(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.deliver(chat.EventNewMessage, f.serverMsg("p1", "peer", chat.KindText, "a", testutil.Epoch))

	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "p1", ReaderID: "A"})
	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "p1", ReaderID: "A"})
	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "unknown", ReaderID: "A"})

	assert.Equal(t, 2, f.s.Timeline("r1")[0].ReadCount)
}

func TestReconcile_ReadReceiptsByReader(t *testing.T) {
	f := newFixture(t, WithReceiptMode(ReceiptModeByReader))
	f.connect()
	f.deliver(chat.EventNewMessage, f.serverMsg("p1", "peer", chat.KindText, "a", testutil.Epoch))

	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "p1", ReaderID: "A"})
	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "p1", ReaderID: "A"})
	assert.Equal(t, 1, f.s.Timeline("r1")[0].ReadCount)

	f.deliver(chat.EventMessageRead, chat.MessageRead{MessageID: "p1", ReaderID: "B"})
	assert.Equal(t, 2, f.s.Timeline("r1")[0].ReadCount)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
