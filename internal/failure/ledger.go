package failure

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/session"
)

// Acknowledger promotes a failure to acknowledged on the server.
type Acknowledger interface {
	AcknowledgeFailure(ctx context.Context, id string) error
}

type ledgerEntry struct {
	record   session.FailureRecord
	reported bool
}

// Ledger tracks failure records and publishes EventFailed for each
// unacknowledged failure exactly once.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*ledgerEntry

	bus    *Bus
	ack    Acknowledger
	logger zerolog.Logger
}

func NewLedger(bus *Bus, ack Acknowledger, logger zerolog.Logger) *Ledger {
	return &Ledger{
		records: make(map[string]*ledgerEntry),
		bus:     bus,
		ack:     ack,
		logger:  logger,
	}
}

// Report records rec and publishes EventFailed when the failure is
// unacknowledged and has not been published before. It reports whether
// it published.
func (l *Ledger) Report(rec session.FailureRecord) bool {
	id := rec.Session.ID
	l.mu.Lock()
	e, ok := l.records[id]
	if !ok {
		e = &ledgerEntry{}
		l.records[id] = e
	}
	// An acknowledgement is never undone by a stale server snapshot.
	acked := e.record.Acknowledged || rec.Acknowledged
	e.record = rec
	e.record.Acknowledged = acked
	publish := !acked && !e.reported
	if publish {
		e.reported = true
	}
	l.mu.Unlock()

	if !publish {
		return false
	}
	n := l.bus.Publish(rec.Session, EventFailed)
	l.logger.Info().
		Str("session", id).
		Str("status", rec.Session.Status.String()).
		Int("subscribers", n).
		Msg("session failure reported")
	return true
}

// Acknowledge tells the server the failure of id was seen and marks the
// record acknowledged. Acknowledging an unknown id still calls the server.
func (l *Ledger) Acknowledge(ctx context.Context, id string) error {
	if err := l.ack.AcknowledgeFailure(ctx, id); err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	l.mu.Lock()
	e, ok := l.records[id]
	if !ok {
		e = &ledgerEntry{record: session.FailureRecord{Session: session.Session{ID: id}}}
		l.records[id] = e
	}
	e.record.Acknowledged = true
	l.mu.Unlock()
	l.logger.Debug().Str("session", id).Msg("failure acknowledged")
	return nil
}

// Get returns the record for id.
func (l *Ledger) Get(id string) (session.FailureRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.records[id]
	if !ok {
		return session.FailureRecord{}, false
	}
	return e.record, true
}

// Unacknowledged returns every unacknowledged record, sorted by session ID.
func (l *Ledger) Unacknowledged() []session.FailureRecord {
	l.mu.Lock()
	var out []session.FailureRecord
	for _, e := range l.records {
		if !e.record.Acknowledged {
			out = append(out, e.record)
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Session.ID < out[j].Session.ID })
	return out
}
