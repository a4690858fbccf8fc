// Package notify holds the user-visible notification list that failure
// events are surfaced through.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-racer/preview/internal/clock"
)

// Severity selects how a notification is styled.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notification is one message. Expiration 0 keeps it until it is removed
// or dismissed.
type Notification struct {
	ID         string
	Text       string
	Severity   Severity
	Expiration time.Duration
	OnClick    func()
	// OnDismiss runs when the user dismisses or clicks the notification,
	// not when it expires or is removed programmatically.
	OnDismiss func()

	CreatedAt time.Time
}

type entry struct {
	n     Notification
	timer *clock.Timer
	gen   uint64
}

// Queue is an ordered, expiring list of notifications. It is safe for
// concurrent use.
type Queue struct {
	clock clock.Clock

	mu       sync.Mutex
	entries  []*entry
	gen      uint64
	onChange func([]Notification)
}

func NewQueue(clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue{clock: clk}
}

// OnChange registers fn to be called with the current list after every
// change. Only one observer is kept.
func (q *Queue) OnChange(fn func([]Notification)) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Handle removes the notification it was returned for.
type Handle struct {
	q   *Queue
	id  string
	gen uint64
}

// ID returns the notification's ID.
func (h *Handle) ID() string { return h.id }

// Remove takes the notification off the queue. Calling it again, or
// after the notification expired or was replaced, does nothing.
func (h *Handle) Remove() {
	h.q.removeGen(h.id, h.gen)
}

// Push adds n, assigning an ID when it has none. A notification with the
// ID of an existing one replaces it in place.
func (q *Queue) Push(n Notification) *Handle {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Severity == "" {
		n.Severity = Info
	}

	q.mu.Lock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.clock.Now()
	}
	q.gen++
	e := &entry{n: n, gen: q.gen}

	replaced := false
	for i, old := range q.entries {
		if old.n.ID == n.ID {
			stopTimer(old)
			q.entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		q.entries = append(q.entries, e)
	}
	q.mu.Unlock()

	// The expiry callback takes q.mu, so the timer is armed unlocked.
	if n.Expiration > 0 {
		id, gen := n.ID, e.gen
		t := q.clock.AfterFunc(n.Expiration, func() { q.removeGen(id, gen) })
		q.mu.Lock()
		e.timer = t
		q.mu.Unlock()
	}

	q.changed()
	return &Handle{q: q, id: n.ID, gen: e.gen}
}

// Remove takes the notification with id off the queue, if present.
func (q *Queue) Remove(id string) {
	q.removeGen(id, 0)
}

// Dismiss is a user-initiated removal: it runs OnDismiss when the
// notification was still present.
func (q *Queue) Dismiss(id string) {
	n, ok := q.take(id, 0)
	if !ok {
		return
	}
	if n.OnDismiss != nil {
		n.OnDismiss()
	}
	q.changed()
}

// Click runs the notification's OnClick handler and dismisses it.
func (q *Queue) Click(id string) {
	n, ok := q.take(id, 0)
	if !ok {
		return
	}
	if n.OnClick != nil {
		n.OnClick()
	}
	if n.OnDismiss != nil {
		n.OnDismiss()
	}
	q.changed()
}

// List returns the notifications in push order.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked()
}

// Len returns the number of notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) listLocked() []Notification {
	out := make([]Notification, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.n
	}
	return out
}

func (q *Queue) removeGen(id string, gen uint64) {
	if _, ok := q.take(id, gen); ok {
		q.changed()
	}
}

// take removes id when present and, if gen is non-zero, still at that
// generation.
func (q *Queue) take(id string, gen uint64) (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.n.ID != id {
			continue
		}
		if gen != 0 && e.gen != gen {
			return Notification{}, false
		}
		stopTimer(e)
		q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
		return e.n, true
	}
	return Notification{}, false
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
}

func (q *Queue) changed() {
	q.mu.Lock()
	fn := q.onChange
	list := q.listLocked()
	q.mu.Unlock()
	if fn != nil {
		fn(list)
	}
}
