// Package client is the transport adapter for the preview server: a REST
// client for status, logs and failure endpoints, and a WebSocket client
// for the per-session terminal stream. Payload types mirror the server's
// wire format.
package client

import (
	"errors"
	"fmt"

	"github.com/agent-racer/preview/internal/session"
)

// ErrNotFound is matched (errors.Is) by failures whose server response
// was 404. It is the only failure reason the engine distinguishes from
// generic errors.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// StatusReport is the response of GET /api/sessions/{id}/status.
type StatusReport struct {
	Status     session.Status     `json:"status"`
	Age        int                `json:"age"`
	KillReason session.KillReason `json:"killReason"`
	ReplacedBy string             `json:"replacedBy,omitempty"`

	Integrations map[string]string `json:"integrations,omitempty"`
}

// LogsReport is the response of GET /api/sessions/{id}/logs.
type LogsReport struct {
	Status  session.Status     `json:"status"`
	Entries []session.LogEntry `json:"entries"`
}

// CreateRequest is the body of POST /api/sessions.
type CreateRequest struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	// TTL in seconds; 0 asks for no expiration.
	TTL int `json:"ttl"`
	// Replaces optionally names a session the new one supersedes.
	Replaces string `json:"replaces,omitempty"`
}
