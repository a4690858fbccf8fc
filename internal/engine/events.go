package engine

import (
	"github.com/agent-racer/preview/internal/age"
	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/notify"
	"github.com/agent-racer/preview/internal/poller"
	"github.com/agent-racer/preview/internal/session"
)

// Event is anything the engine reports to the presentation layer.
type Event interface{ event() }

// SessionsEvent carries the session list after a sync.
type SessionsEvent struct{ Sessions []*session.Session }

// LogsEvent is one successful poll of the viewed session.
type LogsEvent struct{ Update poller.Update }

// AgeEvent is a change of the viewed session's countdown.
type AgeEvent struct {
	ID       string
	Snapshot age.Snapshot
}

// OutputEvent reports n bytes written to the viewed session's surface.
type OutputEvent struct {
	ID string
	N  int
}

// ReconcileEvent is a companion status fetch of the attached stream.
type ReconcileEvent struct {
	ID     string
	Report client.StatusReport
}

// FailedEvent is a confirmed failure of the viewed session.
type FailedEvent struct{ Record session.FailureRecord }

// UnreachableEvent means the viewed session is gone or the server cannot
// be reached; the view should be left.
type UnreachableEvent struct {
	ID  string
	Err error
}

// StoppedEvent is the viewed session reaching Stopped.
type StoppedEvent struct{ ID string }

// StreamEndedEvent is the end of the viewed session's stream. Err is nil
// for a clean close by the server.
type StreamEndedEvent struct {
	ID  string
	Err error
}

// NotificationsEvent carries the notification list after a change.
type NotificationsEvent struct{ List []notify.Notification }

// FocusEvent asks the presentation to open a session, typically because
// a failure notification was clicked.
type FocusEvent struct{ ID string }

// ErrorEvent is a background operation that failed.
type ErrorEvent struct {
	Op  string
	Err error
}

func (SessionsEvent) event()      {}
func (LogsEvent) event()          {}
func (AgeEvent) event()           {}
func (OutputEvent) event()        {}
func (ReconcileEvent) event()     {}
func (FailedEvent) event()        {}
func (UnreachableEvent) event()   {}
func (StoppedEvent) event()       {}
func (StreamEndedEvent) event()   {}
func (NotificationsEvent) event() {}
func (FocusEvent) event()         {}
func (ErrorEvent) event()         {}
