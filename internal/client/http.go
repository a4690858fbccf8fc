package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agent-racer/preview/internal/session"
)

// HTTPClient makes REST calls to the preview server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client

	// status collapses concurrent status reads of one session; the age
	// estimator and the attachment reconcile poll the same session.
	status singleflight.Group
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ListSessions fetches GET /api/sessions.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	if err := c.get(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession sends POST /api/sessions.
func (c *HTTPClient) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	var out session.Session
	if err := c.post(ctx, "/api/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches GET /api/sessions/{id}/status.
func (c *HTTPClient) Status(ctx context.Context, id string) (StatusReport, error) {
	// The shared request outlives any one caller's cancellation so a
	// caller leaving early never fails the others; the client timeout
	// still bounds it.
	ch := c.status.DoChan(id, func() (interface{}, error) {
		var out StatusReport
		err := c.get(context.WithoutCancel(ctx), sessionPath(id, "status"), &out)
		return out, err
	})
	select {
	case <-ctx.Done():
		return StatusReport{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return StatusReport{}, r.Err
		}
		return r.Val.(StatusReport), nil
	}
}

// Logs fetches the entries after since (the watermark; "" for none).
func (c *HTTPClient) Logs(ctx context.Context, id, since string) (LogsReport, error) {
	path := sessionPath(id, "logs")
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	var out LogsReport
	err := c.get(ctx, path, &out)
	return out, err
}

// FailedSessions fetches the server's failed bucket.
func (c *HTTPClient) FailedSessions(ctx context.Context) ([]session.FailureRecord, error) {
	var out []session.FailureRecord
	if err := c.get(ctx, "/api/failed-sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FailedSession looks id up in the failed bucket. A session that is not
// failed yields an error matching ErrNotFound.
func (c *HTTPClient) FailedSession(ctx context.Context, id string) (session.FailureRecord, error) {
	var out session.FailureRecord
	err := c.get(ctx, "/api/failed-sessions/"+url.PathEscape(id), &out)
	return out, err
}

// AcknowledgeFailure sends POST /api/failed-sessions/{id}/ack.
func (c *HTTPClient) AcknowledgeFailure(ctx context.Context, id string) error {
	return c.post(ctx, "/api/failed-sessions/"+url.PathEscape(id)+"/ack", nil, nil)
}

// Track associates this client with the session on the server.
func (c *HTTPClient) Track(ctx context.Context, id string) error {
	return c.post(ctx, sessionPath(id, "track"), nil, nil)
}

// Untrack reverses Track.
func (c *HTTPClient) Untrack(ctx context.Context, id string) error {
	return c.post(ctx, sessionPath(id, "untrack"), nil, nil)
}

func sessionPath(id, action string) string {
	return "/api/sessions/" + url.PathEscape(id) + "/" + action
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

func (c *HTTPClient) do(req *http.Request, path string, out interface{}) error {
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, path, err)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
