// Package session holds the client-side model of remote preview sessions:
// lifecycle enums, log entries, failure records and the shared Table that
// every engine component reads from.
package session

import (
	"maps"
	"slices"
	"time"
)

// NoExpiration is the Age sentinel for sessions without a lifetime limit.
const NoExpiration = -1

// Session is the client's copy of a server-managed preview environment.
type Session struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Ref        string     `json:"ref"`
	Status     Status     `json:"status"`
	Age        int        `json:"age"`
	KillReason KillReason `json:"killReason"`
	Logs       []LogEntry `json:"logs,omitempty"`

	// BeingReplacedBy is the ID of the session superseding this one.
	BeingReplacedBy string   `json:"beingReplacedBy,omitempty"`
	Replaces        []string `json:"replaces,omitempty"`

	Integrations map[string]string `json:"integrations,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Logs = slices.Clone(s.Logs)
	c.Replaces = slices.Clone(s.Replaces)
	c.Integrations = maps.Clone(s.Integrations)
	return &c
}

// DisplayName prefers Name, then a truncated ID.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// LogEntry is one line of session output.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// FailureRecord is a session found in the server's failed bucket.
type FailureRecord struct {
	Session      Session `json:"session"`
	Acknowledged bool    `json:"acknowledged"`
}
