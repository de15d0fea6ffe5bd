package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// WSDialer dials gorilla/websocket connections with a bearer token.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
}

var _ Dialer = (*WSDialer)(nil)

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 15 * time.Second
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("websocket dial: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	writeWait := d.WriteWait
	if writeWait == 0 {
		writeWait = defaultWriteWait
	}
	return &wsConn{conn: conn, writeWait: writeWait}, nil
}

// wsConn adapts *websocket.Conn to Conn.
// gorilla/websocket allows one concurrent writer, so writes are serialized.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *wsConn) Read() (Envelope, error) {
	var e Envelope
	if err := c.conn.ReadJSON(&e); err != nil {
		if c.isClosed() {
			return Envelope{}, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Envelope{}, fmt.Errorf("read: %w", ErrClosed)
		}
		return Envelope{}, fmt.Errorf("read: %w", err)
	}
	return e, nil
}

func (c *wsConn) Write(ctx context.Context, e Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(e); err != nil {
		return fmt.Errorf("write %s: %w", e.Event, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *wsConn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
