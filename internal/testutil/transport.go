package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/chatsync/internal/transport"
)

// FakeDialer is a scripted transport.Dialer.
//
// Each Dial consumes the next queued error; an empty queue dials successfully
// and returns a new FakeConn.
type FakeDialer struct {
	mu     sync.Mutex
	errs   []error
	conns  []*FakeConn
	tokens []string
	hold   chan struct{}
}

var _ transport.Dialer = (*FakeDialer)(nil)

// NewFakeDialer creates a dialer that always succeeds until told otherwise.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// FailNext queues dial results. A nil entry means success.
func (d *FakeDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// Hold makes subsequent dials block until Release.
func (d *FakeDialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = make(chan struct{})
}

// Release unblocks held dials.
func (d *FakeDialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hold != nil {
		close(d.hold)
		d.hold = nil
	}
}

// Dial implements transport.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, url, token string) (transport.Conn, error) {
	d.mu.Lock()
	hold := d.hold
	d.tokens = append(d.tokens, token)
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := NewFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// DialCount returns how many dials were attempted.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// Conns returns every successfully dialed connection.
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last returns the most recent connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// FakeConn is an in-memory transport.Conn.
type FakeConn struct {
	in   chan transport.Envelope
	done chan struct{}

	mu      sync.Mutex
	written []transport.Envelope
	closed  bool
	dropErr error
}

var _ transport.Conn = (*FakeConn)(nil)

// NewFakeConn creates an open connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		in:   make(chan transport.Envelope, 64),
		done: make(chan struct{}),
	}
}

// Push delivers a frame to the reader.
func (c *FakeConn) Push(e transport.Envelope) {
	c.in <- e
}

// Drop simulates the server closing the connection with err.
func (c *FakeConn) Drop(err error) {
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.dropErr = err
	close(c.done)
}

// Read implements transport.Conn.
func (c *FakeConn) Read() (transport.Envelope, error) {
	select {
	case e := <-c.in:
		return e, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dropErr != nil {
			return transport.Envelope{}, c.dropErr
		}
		return transport.Envelope{}, transport.ErrClosed
	}
}

// Write implements transport.Conn.
func (c *FakeConn) Write(ctx context.Context, e transport.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.written = append(c.written, e)
	return nil
}

// Close implements transport.Conn.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Closed reports whether the connection was closed or dropped.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written returns a copy of every frame written so far.
func (c *FakeConn) Written() []transport.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Envelope, len(c.written))
	copy(out, c.written)
	return out
}

// WrittenEvents returns the event names written so far.
func (c *FakeConn) WrittenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, e := range c.written {
		out[i] = e.Event
	}
	return out
}
