package server

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/session"
)

var (
	errUnknownSession = errors.New("session not found")
	errNotFailed      = errors.New("session has not failed")
)

// Store is the server's session state: the session table, each
// session's full log, the failed bucket and track counts.
type Store struct {
	table *session.Table
	now   func() time.Time

	mu       sync.Mutex
	logSeq   map[string]int
	acked    map[string]bool
	tracking map[string]int
}

func NewStore() *Store {
	return &Store{
		table:    session.NewTable(),
		now:      time.Now,
		logSeq:   make(map[string]int),
		acked:    make(map[string]bool),
		tracking: make(map[string]int),
	}
}

// Create starts a new session in Starting. When req.Replaces names an
// existing session, that session is linked to the new one.
func (st *Store) Create(req client.CreateRequest) (*session.Session, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = session.NoExpiration
	}
	s := &session.Session{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Ref:       req.Ref,
		Status:    session.Starting,
		Age:       ttl,
		CreatedAt: st.now(),
	}
	if s.Ref == "" {
		s.Ref = "main"
	}
	if req.Replaces != "" {
		if _, ok := st.table.Get(req.Replaces); !ok {
			return nil, fmt.Errorf("replaces %s: %w", req.Replaces, errUnknownSession)
		}
		s.Replaces = []string{req.Replaces}
	}
	if err := st.table.Put(s); err != nil {
		return nil, err
	}
	if req.Replaces != "" {
		if _, err := st.table.Update(req.Replaces, func(old *session.Session) {
			old.BeingReplacedBy = s.ID
		}); err != nil {
			st.table.Remove(s.ID)
			return nil, err
		}
	}
	st.AppendLog(s.ID, session.LevelInfo, fmt.Sprintf("session %s created for %s", s.DisplayName(), s.Ref))
	created, _ := st.table.Get(s.ID)
	return created, nil
}

// Put inserts s as is. Used for seeding.
func (st *Store) Put(s *session.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.now()
	}
	return st.table.Put(s)
}

func (st *Store) Get(id string) (*session.Session, bool) {
	return st.table.Get(id)
}

func (st *Store) All() []*session.Session {
	return st.table.All()
}

// Update applies fn to session id.
func (st *Store) Update(id string, fn func(*session.Session)) error {
	ok, err := st.table.Update(id, fn)
	if err != nil {
		return err
	}
	if !ok {
		return errUnknownSession
	}
	return nil
}

// AppendLog adds one entry with the next sequential ID ("log-1",
// "log-2", ...).
func (st *Store) AppendLog(id string, level session.Level, msg string) (session.LogEntry, error) {
	st.mu.Lock()
	st.logSeq[id]++
	seq := st.logSeq[id]
	st.mu.Unlock()

	entry := session.LogEntry{
		ID:        fmt.Sprintf("log-%d", seq),
		Timestamp: st.now(),
		Level:     level,
		Message:   msg,
	}
	err := st.Update(id, func(s *session.Session) {
		s.Logs = append(s.Logs, entry)
	})
	return entry, err
}

// LogsSince returns the entries after since. An empty or unknown
// watermark returns the whole log.
func (st *Store) LogsSince(id, since string) (client.LogsReport, error) {
	s, ok := st.table.Get(id)
	if !ok {
		return client.LogsReport{}, errUnknownSession
	}
	entries := s.Logs
	if since != "" {
		if i := slices.IndexFunc(entries, func(e session.LogEntry) bool { return e.ID == since }); i >= 0 {
			entries = entries[i+1:]
		}
	}
	return client.LogsReport{Status: s.Status, Entries: slices.Clone(entries)}, nil
}

// Status returns the status report of id.
func (st *Store) Status(id string) (client.StatusReport, error) {
	s, ok := st.table.Get(id)
	if !ok {
		return client.StatusReport{}, errUnknownSession
	}
	return client.StatusReport{
		Status:       s.Status,
		Age:          s.Age,
		KillReason:   s.KillReason,
		ReplacedBy:   s.BeingReplacedBy,
		Integrations: s.Integrations,
	}, nil
}

// Failed returns the failed bucket, oldest session first.
func (st *Store) Failed() []session.FailureRecord {
	var out []session.FailureRecord
	for _, s := range st.table.All() {
		if s.Status.Failed() {
			out = append(out, st.record(s))
		}
	}
	return out
}

// FailedRecord returns id's failure record, or errNotFailed when the
// session is not in the failed bucket.
func (st *Store) FailedRecord(id string) (session.FailureRecord, error) {
	s, ok := st.table.Get(id)
	if !ok || !s.Status.Failed() {
		return session.FailureRecord{}, errNotFailed
	}
	return st.record(s), nil
}

func (st *Store) record(s *session.Session) session.FailureRecord {
	st.mu.Lock()
	acked := st.acked[s.ID]
	st.mu.Unlock()
	rec := session.FailureRecord{Session: *s, Acknowledged: acked}
	rec.Session.Logs = nil
	return rec
}

// Acknowledge marks id's failure as seen.
func (st *Store) Acknowledge(id string) error {
	if _, err := st.FailedRecord(id); err != nil {
		return err
	}
	st.mu.Lock()
	st.acked[id] = true
	st.mu.Unlock()
	return nil
}

// Track and Untrack count the clients routed to a session.
func (st *Store) Track(id string) error {
	if _, ok := st.table.Get(id); !ok {
		return errUnknownSession
	}
	st.mu.Lock()
	st.tracking[id]++
	st.mu.Unlock()
	return nil
}

func (st *Store) Untrack(id string) error {
	if _, ok := st.table.Get(id); !ok {
		return errUnknownSession
	}
	st.mu.Lock()
	if st.tracking[id] > 0 {
		st.tracking[id]--
	}
	st.mu.Unlock()
	return nil
}

// Tracked returns how many clients track id.
func (st *Store) Tracked(id string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tracking[id]
}
