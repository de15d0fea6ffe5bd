package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
	"github.com/roach88/chatsync/internal/testutil"
)

// User sends "hi" at t=0; the server confirms at t=0.2s with id 551.
func TestPipeline_TextConfirmedByAck(t *testing.T) {
	f := newFixtureAt(t, time.UnixMilli(0).UTC(), WithIDGenerator(testutil.NewFixedIDGenerator("abc")))
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendText("r1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "temp_text_0_abc", sent.ID)
	assert.Equal(t, chat.StateSending, sent.State)
	assert.Equal(t, "me", sent.SenderID)

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1, "provisional entry is visible before the server answers")
	assert.Equal(t, chat.StateSending, tl[0].State)

	f.clock.Advance(200 * time.Millisecond)
	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "551"}})
	f.exec.RunAll("send")
	f.drain()

	tl = f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "551", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
	assert.Equal(t, time.UnixMilli(0).UTC(), tl[0].CreatedAt)
	assert.Empty(t, f.s.Pending())
}

func TestPipeline_TextSentWithToken(t *testing.T) {
	f := newFixture(t)
	f.connect()

	_, err := f.s.SendText("r1", "  hello \n")
	require.NoError(t, err)
	f.drain()

	calls := f.api.Calls()
	var send testutil.APICall
	for _, c := range calls {
		if c.Method == "SendMessage" {
			send = c
		}
	}
	assert.Equal(t, "hello", send.Arg, "bodies are trimmed")
	assert.Equal(t, "tok-1", send.Token)
}

func TestPipeline_EmptyTextRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.s.SendText("r1", "   ")
	assert.ErrorIs(t, err, ErrEmptyBody)
	assert.Nil(t, f.s.Timeline("r1"))
}

// An image upload exceeds 30s and fails; the server's late response must
// not add a second entry.
func TestPipeline_MediaTimeoutThenLateSuccess(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendMedia("r1", "/photos/cat.png", chat.KindImage)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", sent.Body)
	assert.Equal(t, "/photos/cat.png", sent.LocalRef)

	f.advance(29 * time.Second)
	assert.Equal(t, chat.StateSending, f.s.Timeline("r1")[0].State)

	f.advance(time.Second)
	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, chat.StateFailed, tl[0].State)
	require.Len(t, f.rec.failed, 1)
	assert.Equal(t, sent.ID, f.rec.failed[0].ID)
	assert.True(t, IsSendFailed(f.rec.failErrs[0]))

	f.clock.Advance(time.Second)
	server := f.serverMsg("901", "me", chat.KindImage, "https://cdn.example/cat.png", testutil.Epoch.Add(2*time.Second))
	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "901", Message: &server}})
	f.exec.RunAll("send")
	f.drain()

	tl = f.s.Timeline("r1")
	require.Len(t, tl, 1, "late success never duplicates")
	assert.Equal(t, "901", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
	assert.Empty(t, tl[0].LocalRef)
	assert.Empty(t, f.s.Pending())
}

func TestPipeline_MediaTimeoutThenEchoThenIDOnlyAck(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	sent, err := f.s.SendMedia("r1", "/photos/cat.png", chat.KindImage)
	require.NoError(t, err)
	f.advance(30 * time.Second)

	// No token and nothing SENDING: the echo upgrades the failed entry.
	f.deliver(chat.EventMessageSent, f.serverMsg("901", "me", chat.KindImage, "https://cdn.example/cat.png",
		testutil.Epoch.Add(time.Second)))
	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "901", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)

	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "901"}})
	f.exec.RunAll("send")
	f.drain()

	tl = f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "901", tl[0].ID)
	assert.Nil(t, findByID(f.s.Pending(), sent.ID))
}

func TestPipeline_MediaTimeoutErrorReplyThenEcho(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	_, err := f.s.SendMedia("r1", "/photos/cat.png", chat.KindImage)
	require.NoError(t, err)
	f.advance(31 * time.Second)

	f.api.QueueSend(testutil.SendResult{Err: errors.New("context deadline exceeded")})
	f.exec.RunAll("send")
	f.drain()
	require.Equal(t, chat.StateFailed, f.s.Timeline("r1")[0].State)

	f.deliver(chat.EventMessageSent, f.serverMsg("901", "me", chat.KindImage, "https://cdn.example/cat.png",
		testutil.Epoch.Add(time.Second)))

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "901", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
	assert.Empty(t, tl[0].LocalRef)
	assert.Empty(t, f.s.Pending())
}

func TestPipeline_EchoOutsideWindowDoesNotUpgradeFailed(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.api.QueueSend(testutil.SendResult{Err: errors.New("network down")})
	failed, err := f.s.SendText("r1", "hello")
	require.NoError(t, err)
	f.drain()

	f.deliver(chat.EventMessageSent, f.serverMsg("902", "me", chat.KindText, "hello",
		testutil.Epoch.Add(time.Hour)))

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 2)
	assert.NotNil(t, findByID(f.s.Pending(), failed.ID))
}

func TestPipeline_RejectedSendFails(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.api.QueueSend(testutil.SendResult{Err: &api.StatusError{StatusCode: 500}})
	sent, err := f.s.SendText("r1", "boom")
	require.NoError(t, err)
	f.drain()

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, sent.ID, tl[0].ID)
	assert.Equal(t, chat.StateFailed, tl[0].State)
	assert.Len(t, f.s.Pending(), 1, "failed entries stay until retried")
	assert.Len(t, f.rec.failed, 1)
}

func TestPipeline_RetryCreatesFreshEntry(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.api.QueueSend(testutil.SendResult{Err: errors.New("network down")})
	failed, err := f.s.SendText("r1", "again")
	require.NoError(t, err)
	f.drain()

	retried, err := f.s.Retry("r1", failed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retried.ID)
	assert.NotEqual(t, failed.ClientToken, retried.ClientToken)
	assert.Equal(t, "again", retried.Body)
	f.drain()

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "srv-1", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
	assert.Empty(t, f.s.Pending())

	_, err = f.s.Retry("r1", failed.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = f.s.Retry("r1", "srv-1")
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestPipeline_RetryBypassesGuard(t *testing.T) {
	f := newFixture(t)
	f.connect()

	f.api.QueueSend(testutil.SendResult{Err: errors.New("rejected")})
	failed, err := f.s.SendMedia("r1", "/a.png", chat.KindImage)
	require.NoError(t, err)
	f.drain()

	_, err = f.s.Retry("r1", failed.ID)
	assert.NoError(t, err, "retry within the guard window is an explicit user action")
}

func TestPipeline_MediaDuplicateGuard(t *testing.T) {
	f := newFixture(t)
	f.connect()

	_, err := f.s.SendMedia("r1", "/a.png", chat.KindImage)
	require.NoError(t, err)

	f.clock.Advance(500 * time.Millisecond)
	_, err = f.s.SendMedia("r1", "/a.png", chat.KindImage)
	assert.ErrorIs(t, err, ErrDuplicateSend)

	f.clock.Advance(500 * time.Millisecond)
	_, err = f.s.SendMedia("r1", "/b.png", chat.KindImage)
	assert.NoError(t, err)
	f.drain()

	assert.Len(t, f.s.Timeline("r1"), 2)
}

func TestPipeline_TextGuardOffByDefault(t *testing.T) {
	f := newFixture(t)
	f.connect()

	for _, body := range []string{"a", "b", "c"} {
		_, err := f.s.SendText("r1", body)
		require.NoError(t, err)
	}
	f.drain()
	assert.Len(t, f.s.Timeline("r1"), 3)
}

func TestPipeline_TextGuardWhenConfigured(t *testing.T) {
	f := newFixture(t, WithDedupWindows(300*time.Millisecond, time.Second))
	f.connect()

	_, err := f.s.SendText("r1", "a")
	require.NoError(t, err)
	_, err = f.s.SendText("r1", "a")
	assert.ErrorIs(t, err, ErrDuplicateSend)
}

func TestPipeline_SendMediaValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.s.SendMedia("r1", "/a.txt", chat.KindText)
	assert.Error(t, err)
	_, err = f.s.SendMedia("r1", "", chat.KindImage)
	assert.Error(t, err)
}

func TestPipeline_OutboxFlushedOnConnect(t *testing.T) {
	f := newFixture(t)

	one, err := f.s.SendText("r1", "one")
	require.NoError(t, err)
	_, err = f.s.SendText("r1", "two")
	require.NoError(t, err)
	f.drain()

	assert.Equal(t, chat.StatePending, one.State)
	assert.Equal(t, 0, f.api.CallCount("SendMessage"), "nothing is sent while disconnected")

	f.connect()

	var bodies []string
	for _, c := range f.api.Calls() {
		if c.Method == "SendMessage" {
			bodies = append(bodies, c.Arg)
		}
	}
	assert.Equal(t, []string{"one", "two"}, bodies)

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 2)
	assert.Equal(t, []string{"srv-1", "srv-2"}, ids(tl))
	assert.Empty(t, f.s.Pending())
}

// A send issued before leaving the room still reconciles into that room.
func TestPipeline_LateResultAfterLeave(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.join("r1")
	f.exec.Hold("send")

	_, err := f.s.SendText("r1", "bye")
	require.NoError(t, err)
	f.s.LeaveRoom()
	f.drain()

	f.exec.RunAll("send")
	f.drain()

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 1)
	assert.Equal(t, "srv-1", tl[0].ID)
	assert.Equal(t, chat.StateConfirmed, tl[0].State)
}

// Several sends may be in flight at once and resolve in any order.
func TestPipeline_ConcurrentSendsResolveIndependently(t *testing.T) {
	f := newFixture(t)
	f.connect()
	f.exec.Hold("send")

	for _, body := range []string{"a", "b", "c"} {
		_, err := f.s.SendText("r1", body)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	require.Equal(t, 3, f.exec.Queued("send"))

	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "A"}})
	f.api.QueueSend(testutil.SendResult{Err: errors.New("rejected")})
	f.api.QueueSend(testutil.SendResult{Resp: &api.SendResponse{MessageID: "C"}})
	f.exec.RunAll("send")
	f.drain()

	tl := f.s.Timeline("r1")
	require.Len(t, tl, 3)
	assert.Equal(t, "A", tl[0].ID)
	assert.Equal(t, chat.StateFailed, tl[1].State)
	assert.Equal(t, "C", tl[2].ID)
	assert.Len(t, f.s.Pending(), 1)
}

func findByID(msgs []chat.Message, id string) *chat.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i]
		}
	}
	return nil
}
