package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/chatsync/internal/api"
	"github.com/roach88/chatsync/internal/chat"
)

// APICall records one request made to a FakeAPI.
type APICall struct {
	Method string
	RoomID string
	Arg    string
	Token  string
}

// SendResult scripts the outcome of one send.
type SendResult struct {
	Resp *api.SendResponse
	Err  error
}

// FakeAPI is an in-memory chat REST API.
//
// Sends consume queued SendResults in order; with an empty queue they
// succeed with ids "srv-1", "srv-2", ... Heartbeats consume queued errors
// the same way.
type FakeAPI struct {
	mu            sync.Mutex
	sends         []SendResult
	heartbeatErrs []error
	markReadErr   error
	history       map[string][]chat.Message
	calls         []APICall
	nextID        int
}

// NewFakeAPI creates an API that accepts everything.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{history: make(map[string][]chat.Message)}
}

// QueueSend scripts the next send outcome.
func (f *FakeAPI) QueueSend(r SendResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, r)
}

// QueueHeartbeat scripts the next heartbeat outcomes. nil means success.
func (f *FakeAPI) QueueHeartbeat(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatErrs = append(f.heartbeatErrs, errs...)
}

// SetMarkReadError makes every MarkAsRead fail with err.
func (f *FakeAPI) SetMarkReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadErr = err
}

// SetHistory sets the messages returned by ChatMessages for a room.
func (f *FakeAPI) SetHistory(roomID string, msgs []chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[roomID] = msgs
}

// SendMessage implements the engine's API dependency.
func (f *FakeAPI) SendMessage(ctx context.Context, roomID, content, clientToken string) (*api.SendResponse, error) {
	return f.send(APICall{Method: "SendMessage", RoomID: roomID, Arg: content, Token: clientToken})
}

// SendMediaMessage implements the engine's API dependency.
func (f *FakeAPI) SendMediaMessage(ctx context.Context, roomID string, up api.MediaUpload) (*api.SendResponse, error) {
	return f.send(APICall{Method: "SendMediaMessage", RoomID: roomID, Arg: up.Path, Token: up.ClientToken})
}

// ChatMessages implements the engine's API dependency.
func (f *FakeAPI) ChatMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, APICall{Method: "ChatMessages", RoomID: roomID})
	out := make([]chat.Message, len(f.history[roomID]))
	copy(out, f.history[roomID])
	return out, nil
}

// MarkAsRead implements the engine's API dependency.
func (f *FakeAPI) MarkAsRead(ctx context.Context, roomID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, APICall{Method: "MarkAsRead", RoomID: roomID, Arg: messageID})
	return f.markReadErr
}

// Heartbeat implements connection.Pulser.
func (f *FakeAPI) Heartbeat(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, APICall{Method: "Heartbeat"})
	if len(f.heartbeatErrs) == 0 {
		return nil
	}
	err := f.heartbeatErrs[0]
	f.heartbeatErrs = f.heartbeatErrs[1:]
	return err
}

// Calls returns a copy of every recorded call.
func (f *FakeAPI) Calls() []APICall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]APICall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many calls of method were made.
func (f *FakeAPI) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *FakeAPI) send(call APICall) (*api.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	if len(f.sends) > 0 {
		r := f.sends[0]
		f.sends = f.sends[1:]
		return r.Resp, r.Err
	}
	f.nextID++
	return &api.SendResponse{MessageID: fmt.Sprintf("srv-%d", f.nextID)}, nil
}
