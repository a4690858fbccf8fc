// Package failure propagates session failures to whoever asked to hear
// about them, regardless of which view is active when the failure is
// detected.
//
// Bus is a single-shot registry: a publish consumes every callback
// registered for its (session, kind) pair. Ledger remembers which failures
// were already reported or acknowledged so a failure surfaces at most
// once. Watcher polls the server's failed bucket for sessions nobody is
// currently viewing.
package failure

import (
	"sync"

	"github.com/agent-racer/preview/internal/session"
)

// EventKind names what happened to a session.
type EventKind string

const (
	EventFailed   EventKind = "failed"
	EventStopped  EventKind = "stopped"
	EventReplaced EventKind = "replaced"
)

// Callback receives a snapshot of the session the event is about.
type Callback func(s session.Session)

type key struct {
	id   string
	kind EventKind
}

type subscription struct {
	seq uint64
	cb  Callback
}

// Bus maps (session ID, event kind) to an ordered list of callbacks.
// The zero value is not usable; call NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[key][]subscription
	seq  uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[key][]subscription)}
}

// Subscribe registers cb for the next kind event of session id. The
// registration is complete when Subscribe returns. The returned cancel
// func removes it if it has not fired yet; calling it again, or after
// delivery, does nothing.
func (b *Bus) Subscribe(id string, kind EventKind, cb Callback) (cancel func()) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	k := key{id, kind}
	b.subs[k] = append(b.subs[k], subscription{seq: seq, cb: cb})
	b.mu.Unlock()

	return func() { b.remove(k, seq) }
}

func (b *Bus) remove(k key, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[k]
	for i, sub := range list {
		if sub.seq == seq {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, k)
	} else {
		b.subs[k] = list
	}
}

// Publish detaches every callback registered for (s.ID, kind) and then
// invokes them in registration order, outside the lock, so callbacks may
// subscribe again. It returns the number of callbacks invoked. Publishing
// with no subscribers is a no-op.
func (b *Bus) Publish(s session.Session, kind EventKind) int {
	k := key{s.ID, kind}
	b.mu.Lock()
	list := b.subs[k]
	delete(b.subs, k)
	b.mu.Unlock()

	for _, sub := range list {
		sub.cb(s)
	}
	return len(list)
}

// Pending returns how many callbacks wait on (id, kind).
func (b *Bus) Pending(id string, kind EventKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key{id, kind}])
}
