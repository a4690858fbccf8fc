// Package poller keeps one session's status and log buffer in sync with
// the server.
//
// A Poller fetches the entries after the buffer's watermark once per
// interval, strictly sequentially, so the watermark only moves forward.
// When fetching fails it asks the server's failed bucket whether the
// session has failed before deciding between reporting the failure and
// giving the session up as unreachable.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/failure"
	"github.com/agent-racer/preview/internal/logs"
	"github.com/agent-racer/preview/internal/session"
)

const DefaultInterval = time.Second

// Outcome is the result of a poll cycle.
type Outcome int

const (
	// Continue means the next cycle should run after the interval.
	Continue Outcome = iota
	// Failed means the server confirmed the session failed.
	Failed
	// Unreachable means the session is gone or could not be confirmed;
	// the view should navigate away.
	Unreachable
	// Cancelled is returned by Run when its context ends.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Failed:
		return "failed"
	case Unreachable:
		return "unreachable"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Fetcher is the part of the transport the poller calls.
type Fetcher interface {
	Logs(ctx context.Context, id, since string) (client.LogsReport, error)
	FailedSession(ctx context.Context, id string) (session.FailureRecord, error)
}

// Reporter receives confirmed failures. failure.Ledger implements it.
type Reporter interface {
	Report(rec session.FailureRecord) bool
}

// Update describes one successful fetch.
type Update struct {
	ID        string
	Status    session.Status
	Added     []session.LogEntry
	Watermark string
}

type Options struct {
	Interval time.Duration
	// ConfirmAfter is the number of consecutive fetch failures that
	// trigger the failed-bucket confirmation. Failures below it are
	// retried after the interval. Defaults to 1.
	ConfirmAfter int

	Clock  clock.Clock
	Logger zerolog.Logger

	// Table receives status and log writes. Optional.
	Table *session.Table
	// Buffer holds the session's logs and supplies the watermark. A new
	// empty buffer is used when nil.
	Buffer *logs.Buffer
	// Reporter is told about confirmed failures. Optional.
	Reporter Reporter
	// Bus receives EventStopped when the session transitions to
	// stopped. Optional.
	Bus *failure.Bus

	OnUpdate      func(Update)
	OnFailed      func(rec session.FailureRecord)
	OnUnreachable func(id string, err error)
}

// Poller syncs one session. A Poller is not safe for concurrent cycles;
// Run is the only intended driver besides tests calling Cycle directly.
type Poller struct {
	id      string
	fetcher Fetcher
	opts    Options
	log     zerolog.Logger

	failures   int
	lastStatus session.Status
}

func New(id string, fetcher Fetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ConfirmAfter <= 0 {
		opts.ConfirmAfter = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Buffer == nil {
		opts.Buffer = logs.NewBuffer(nil)
	}
	return &Poller{
		id:      id,
		fetcher: fetcher,
		opts:    opts,
		log:     opts.Logger.With().Str("session", id).Logger(),
	}
}

// Buffer returns the log buffer the poller merges into.
func (p *Poller) Buffer() *logs.Buffer { return p.opts.Buffer }

// Run cycles until a cycle ends in Failed or Unreachable, or ctx is
// cancelled. The interval is measured from the end of each fetch, so
// fetches never overlap.
func (p *Poller) Run(ctx context.Context) Outcome {
	for {
		out := p.Cycle(ctx)
		if out != Continue {
			return out
		}
		select {
		case <-ctx.Done():
			return Cancelled
		case <-p.opts.Clock.After(p.opts.Interval):
		}
	}
}

// Cycle performs one fetch and whatever escalation it requires.
func (p *Poller) Cycle(ctx context.Context) Outcome {
	since := p.opts.Buffer.Watermark()
	report, err := p.fetcher.Logs(ctx, p.id, since)
	if ctx.Err() != nil {
		return Cancelled
	}

	switch {
	case err == nil && report.Status.Failed():
		// The server already says failed; confirm through the failed
		// bucket so there is a single notification path.
		p.apply(report)
		return p.confirm(ctx, fmt.Errorf("session reported %s", report.Status))
	case err == nil:
		p.failures = 0
		p.apply(report)
		return Continue
	case errors.Is(err, client.ErrNotFound):
		return p.unreachable(err)
	}

	p.failures++
	if p.failures < p.opts.ConfirmAfter {
		p.log.Warn().Err(err).Int("failures", p.failures).Msg("poll failed, retrying")
		return Continue
	}
	return p.confirm(ctx, err)
}

func (p *Poller) apply(report client.LogsReport) {
	added := p.opts.Buffer.Merge(report.Entries)
	watermark := p.opts.Buffer.Watermark()

	if p.opts.Table != nil {
		found, err := p.opts.Table.Update(p.id, func(s *session.Session) {
			s.Status = report.Status
			s.Logs = logs.Merge(s.Logs, added)
		})
		if err != nil || !found {
			p.log.Debug().Err(err).Bool("found", found).Msg("session table not updated")
		}
	}

	prev := p.lastStatus
	p.lastStatus = report.Status
	if report.Status == session.Stopped && prev != session.Stopped && p.opts.Bus != nil {
		p.opts.Bus.Publish(session.Session{ID: p.id, Status: report.Status}, failure.EventStopped)
	}

	if len(added) > 0 || prev != report.Status {
		p.log.Debug().
			Str("status", report.Status.String()).
			Int("added", len(added)).
			Str("watermark", watermark).
			Msg("poll")
	}
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(Update{ID: p.id, Status: report.Status, Added: added, Watermark: watermark})
	}
}

func (p *Poller) confirm(ctx context.Context, cause error) Outcome {
	rec, err := p.fetcher.FailedSession(ctx, p.id)
	if ctx.Err() != nil {
		return Cancelled
	}
	if err != nil {
		if !errors.Is(err, client.ErrNotFound) {
			err = fmt.Errorf("%w (after %v)", err, cause)
		}
		return p.unreachable(err)
	}

	if p.opts.Table != nil {
		_, _ = p.opts.Table.Update(p.id, func(s *session.Session) {
			s.Status = rec.Session.Status
			s.KillReason = rec.Session.KillReason
		})
	}
	p.lastStatus = rec.Session.Status
	if p.opts.Reporter != nil {
		p.opts.Reporter.Report(rec)
	}
	p.log.Info().Err(cause).Str("status", rec.Session.Status.String()).Msg("session failure confirmed")
	if p.opts.OnFailed != nil {
		p.opts.OnFailed(rec)
	}
	return Failed
}

func (p *Poller) unreachable(err error) Outcome {
	p.log.Warn().Err(err).Msg("session unreachable")
	if p.opts.OnUnreachable != nil {
		p.opts.OnUnreachable(p.id, err)
	}
	return Unreachable
}
