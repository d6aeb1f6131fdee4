package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is where the chat backend listens unless configured
// otherwise.
const DefaultBaseURL = "http://localhost:8000/api/chat"

// SessionInfo is the backend's answer to session creation.
type SessionInfo struct {
	SessionID      string `json:"session_id"`
	WelcomeMessage string `json:"welcome_message"`
}

// Backend is the chat server surface the controller talks to.
type Backend interface {
	CreateSession(ctx context.Context) (SessionInfo, error)
	SessionExists(ctx context.Context, sessionID string) bool
	PendingApproval(ctx context.Context, sessionID string) ([]ApprovalAction, error)
	SendMessage(ctx context.Context, sessionID, message string) (io.ReadCloser, error)
	Approve(ctx context.Context, sessionID string) (io.ReadCloser, error)
	Reject(ctx context.Context, sessionID string) (io.ReadCloser, error)
}

// Client talks to the chat backend over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: message streams stay open for the whole turn.
		HTTP: &http.Client{Transport: http.DefaultTransport},
	}
}

func (c *Client) sessionURL(sessionID string, parts ...string) string {
	u := c.BaseURL + "/sessions"
	if sessionID != "" {
		u += "/" + url.PathEscape(sessionID)
	}
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) do(ctx context.Context, method, target string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.HTTP.Do(req)
}

func ok(status int) bool { return status >= 200 && status < 300 }

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// CreateSession asks the backend for a new session.
func (c *Client) CreateSession(ctx context.Context) (SessionInfo, error) {
	resp, err := c.do(ctx, http.MethodPost, c.sessionURL(""), nil)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	defer discard(resp)

	if !ok(resp.StatusCode) {
		return SessionInfo{}, &SessionCreateError{Status: resp.StatusCode}
	}
	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SessionInfo{}, fmt.Errorf("decode session response: %w", err)
	}
	if info.SessionID == "" {
		return SessionInfo{}, fmt.Errorf("decode session response: missing session_id")
	}
	return info, nil
}

// SessionExists reports whether the backend still knows sessionID. Any
// failure counts as "no".
func (c *Client) SessionExists(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, c.sessionURL(sessionID), nil)
	if err != nil {
		return false
	}
	defer discard(resp)
	return ok(resp.StatusCode)
}

// PendingApproval returns the actions the backend is waiting on for
// sessionID. It is empty when nothing awaits a decision.
func (c *Client) PendingApproval(ctx context.Context, sessionID string) ([]ApprovalAction, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionURL(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer discard(resp)

	if !ok(resp.StatusCode) {
		return nil, &RequestError{Op: "get session", Status: resp.StatusCode}
	}
	var body struct {
		PendingApproval []ApprovalAction `json:"pending_approval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	return body.PendingApproval, nil
}

// SendMessage posts a user message and returns the streamed reply body.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (io.ReadCloser, error) {
	return c.stream(ctx, "send message", c.sessionURL(sessionID, "messages"), map[string]string{"message": message})
}

// Approve confirms the pending tool calls and streams the resumed reply.
func (c *Client) Approve(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	return c.stream(ctx, "approve action", c.sessionURL(sessionID, "approve"), nil)
}

// Reject declines the pending tool calls and streams the acknowledgment.
func (c *Client) Reject(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	return c.stream(ctx, "reject action", c.sessionURL(sessionID, "reject"), nil)
}

func (c *Client) stream(ctx context.Context, op, target string, body any) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok(resp.StatusCode) {
		discard(resp)
		return nil, &RequestError{Op: op, Status: resp.StatusCode}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoStream
	}
	return resp.Body, nil
}
