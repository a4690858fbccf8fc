package failure

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/session"
)

// Lister fetches the server's failed bucket.
type Lister interface {
	FailedSessions(ctx context.Context) ([]session.FailureRecord, error)
}

// Watcher reports failed-bucket entries to a Ledger on a fixed cadence.
// It covers sessions that no poller is watching because the user
// navigated away from them.
type Watcher struct {
	lister   Lister
	ledger   *Ledger
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	before func(ctx context.Context) error
}

func NewWatcher(lister Lister, ledger *Ledger, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Watcher {
	return &Watcher{
		lister:   lister,
		ledger:   ledger,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Before registers fn to run ahead of every check in Run. A failing fn
// is logged and the check still runs.
func (w *Watcher) Before(fn func(ctx context.Context) error) {
	w.before = fn
}

// Check fetches the bucket once and returns how many failures were
// newly published.
func (w *Watcher) Check(ctx context.Context) (int, error) {
	records, err := w.lister.FailedSessions(ctx)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, rec := range records {
		if w.ledger.Report(rec) {
			published++
		}
	}
	return published, nil
}

// Run checks immediately and then every interval, measured from the end
// of the previous check, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if w.before != nil {
			if err := w.before(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("pre-check sync")
			}
		}
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("failed bucket check")
		}
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(w.interval):
		}
	}
}
