package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrReplacementCycle is returned by Put when a replacement link would
// make a session (transitively) replace itself.
var ErrReplacementCycle = errors.New("replacement chain would form a cycle")

// Table is the shared, concurrency-safe session table. Replacement links
// are stored as identifiers and resolved through the table, so sessions
// never own each other.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Get returns a copy of the session.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// All returns copies of every session, oldest first.
func (t *Table) All() []*Session {
	t.mu.RLock()
	result := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		result = append(result, s.Clone())
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Put stores a copy of s, replacing any previous entry with the same ID.
func (t *Table) Put(s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session without id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLinkLocked(s.ID, s.BeingReplacedBy); err != nil {
		return err
	}
	t.sessions[s.ID] = s.Clone()
	return nil
}

// Update applies fn to the stored session in place. It reports whether
// the session exists. fn must not retain the pointer.
func (t *Table) Update(id string, fn func(*Session)) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false, nil
	}
	next := s.Clone()
	fn(next)
	next.ID = id
	if err := t.checkLinkLocked(id, next.BeingReplacedBy); err != nil {
		return true, err
	}
	t.sessions[id] = next
	return true, nil
}

func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ReplacementChain returns the IDs of the sessions that successively
// replace id, nearest first. Links to sessions not in the table end the
// chain after the unknown ID.
func (t *Table) ReplacementChain(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []string
	seen := map[string]bool{id: true}
	cur, ok := t.sessions[id]
	for ok && cur.BeingReplacedBy != "" {
		next := cur.BeingReplacedBy
		if seen[next] {
			break
		}
		seen[next] = true
		chain = append(chain, next)
		cur, ok = t.sessions[next]
	}
	return chain
}

// Latest returns the newest session in id's replacement chain, or id
// itself when nothing replaces it.
func (t *Table) Latest(id string) string {
	chain := t.ReplacementChain(id)
	if len(chain) == 0 {
		return id
	}
	return chain[len(chain)-1]
}

// checkLinkLocked rejects id -> next when next already leads back to id.
func (t *Table) checkLinkLocked(id, next string) error {
	seen := make(map[string]bool)
	for next != "" {
		if next == id {
			return fmt.Errorf("%s: %w", id, ErrReplacementCycle)
		}
		if seen[next] {
			return nil
		}
		seen[next] = true
		s, ok := t.sessions[next]
		if !ok {
			return nil
		}
		next = s.BeingReplacedBy
	}
	return nil
}
