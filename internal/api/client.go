// Package api provides a client for the chat server's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/chatsync/internal/chat"
)

// ErrUnauthorized is returned for 401 responses. It ends the session.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api error %d", e.StatusCode)
	}
	return fmt.Sprintf("chat api error %d: %s", e.StatusCode, e.Message)
}

// Is makes errors.Is(err, ErrUnauthorized) true for 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Default per-request deadlines. Uploads get a deadline well past the
// session's media timeout so a slow upload that the server still accepts can
// upgrade the failed entry in place.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 5 * time.Minute
)

// Client is a chat REST API client.
//
// HTTPClient carries no overall timeout; every request is bounded through
// its context instead, RequestTimeout for JSON calls and UploadTimeout for
// media uploads. A zero value leaves the request bounded by ctx alone.
type Client struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

// NewClient creates a new client with the default deadlines.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Token:          token,
		HTTPClient:     &http.Client{},
		RequestTimeout: DefaultRequestTimeout,
		UploadTimeout:  DefaultUploadTimeout,
	}
}

// SendMessageRequest is the request body for a text send.
type SendMessageRequest struct {
	Content     string `json:"content"`
	ClientToken string `json:"clientToken,omitempty"`
}

// SendResponse is the response to a text or media send.
// Message is only present when the server re-rendered the payload.
type SendResponse struct {
	MessageID string        `json:"messageId"`
	Message   *chat.Message `json:"message,omitempty"`
}

// MessagesResponse is the response from listing room messages.
type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// SendMessage posts a text message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, content, clientToken string) (*SendResponse, error) {
	body, err := json.Marshal(SendMessageRequest{Content: content, ClientToken: clientToken})
	if err != nil {
		return nil, fmt.Errorf("encode send message: %w", err)
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, roomPath(roomID, "messages"), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode send message: %w", err)
	}
	if resp.MessageID == "" {
		return nil, fmt.Errorf("send message: response has no messageId")
	}
	return &resp, nil
}

// ChatMessages lists the server's history of a room.
func (c *Client) ChatMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, roomPath(roomID, "messages"), "", nil)
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}
	if resp.Messages == nil {
		resp.Messages = []chat.Message{}
	}
	return resp.Messages, nil
}

// MarkAsRead marks a message as read by the current user.
func (c *Client) MarkAsRead(ctx context.Context, roomID, messageID string) error {
	path := roomPath(roomID, "messages", messageID, "read")
	_, err := c.doRequest(ctx, http.MethodPost, path, "application/json", bytes.NewReader([]byte("{}")))
	return err
}

// Heartbeat reports the current user as online.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/users/heartbeat", "application/json", bytes.NewReader([]byte("{}")))
	return err
}

// doRequest performs an authenticated HTTP request bounded by RequestTimeout
// and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	return c.doRequestWithin(ctx, c.RequestTimeout, method, path, contentType, body)
}

func (c *Client) doRequestWithin(ctx context.Context, timeout time.Duration, method, path, contentType string, body io.Reader) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

func roomPath(roomID string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "", "chat", "rooms", url.PathEscape(roomID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}
