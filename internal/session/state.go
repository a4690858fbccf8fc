package session

import (
	"encoding/json"
	"fmt"
)

// Status is a session's lifecycle state as reported by the server.
type Status int

const (
	StatusNone Status = iota
	Starting
	Started
	StartFailed
	Stopping
	StopFailed
	Stopped
	Degraded
)

var statusNames = map[Status]string{
	StatusNone:  "none",
	Starting:    "starting",
	Started:     "started",
	StartFailed: "start_failed",
	Stopping:    "stopping",
	StopFailed:  "stop_failed",
	Stopped:     "stopped",
	Degraded:    "degraded",
}

var statusFromName = invert(statusNames)

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Failed reports whether the status belongs to the server's failed bucket.
func (s Status) Failed() bool {
	return s == StartFailed || s == StopFailed
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == Stopped || s.Failed()
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, statusFromName, s, "status")
}

// KillReason records why a session stopped.
type KillReason int

const (
	KillNone KillReason = iota
	KillStopped
	KillBuildFailed
	KillHealthcheckFailed
	KillReplaced
)

var killReasonNames = map[KillReason]string{
	KillNone:              "none",
	KillStopped:           "stopped",
	KillBuildFailed:       "build_failed",
	KillHealthcheckFailed: "healthcheck_failed",
	KillReplaced:          "replaced",
}

var killReasonFromName = invert(killReasonNames)

func (k KillReason) String() string {
	if n, ok := killReasonNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k KillReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *KillReason) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, killReasonFromName, k, "kill reason")
}

// Level is the severity or channel tag of a log entry.
type Level string

const (
	LevelTrace    Level = "trace"
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
	LevelStdout   Level = "stdout"
	LevelStderr   Level = "stderr"
	LevelStdin    Level = "stdin"
)

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// unmarshalEnum accepts the string name of a value. Unknown names are an
// error so a server-side rename surfaces instead of silently reading as
// the zero value.
func unmarshalEnum[T any](data []byte, names map[string]T, out *T, what string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := names[s]
	if !ok {
		return fmt.Errorf("unknown %s %q", what, s)
	}
	*out = v
	return nil
}
