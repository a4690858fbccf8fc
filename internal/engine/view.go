package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/age"
	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/failure"
	"github.com/agent-racer/preview/internal/logs"
	"github.com/agent-racer/preview/internal/poller"
	"github.com/agent-racer/preview/internal/scope"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/terminal"
)

// View is everything running for the session on screen: the status
// poller, the age estimator, the terminal attachment and the server-side
// track. All of it is released by Close.
type View struct {
	id        string
	scope     *scope.Scope
	buffer    *logs.Buffer
	estimator *age.Estimator
	surface   terminal.Surface
	log       zerolog.Logger

	mu         sync.Mutex
	attachment *terminal.Attachment
	outcome    poller.Outcome
	done       chan struct{}
}

func openView(ctx context.Context, e *Engine, s *session.Session, surface terminal.Surface) *View {
	id := s.ID
	v := &View{
		id:      id,
		scope:   scope.New(e.scope.Context()),
		buffer:  logs.NewBuffer(s.Logs),
		surface: surface,
		log:     e.log.With().Str("session", id).Logger(),
		done:    make(chan struct{}),
	}
	sc := v.scope

	if err := e.transport.Track(ctx, id); err != nil {
		v.log.Debug().Err(err).Msg("track failed")
	} else {
		sc.Defer(func() {
			uctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
			defer cancel()
			if err := e.transport.Untrack(uctx, id); err != nil {
				v.log.Debug().Err(err).Msg("untrack failed")
			}
		})
	}

	// OnChange keeps the table's countdown current and records the
	// replacement link learned from a refresh.
	v.estimator = age.New(id, age.State{
		Age:        s.Age,
		Status:     s.Status,
		KillReason: s.KillReason,
		ReplacedBy: s.BeingReplacedBy,
	}, e.transport, age.Options{
		Tick:    e.opts.AgeTick,
		Refresh: e.opts.AgeRefresh,
		Clock:   e.opts.Clock,
		Logger:  v.log,
		OnChange: func(snap age.Snapshot) {
			e.recordAge(id, snap)
			e.emit(AgeEvent{ID: id, Snapshot: snap})
		},
	})
	v.estimator.Start(sc.Context())
	sc.Defer(v.estimator.Stop)

	cancelStopped := e.bus.Subscribe(id, failure.EventStopped, func(session.Session) {
		e.emit(StoppedEvent{ID: id})
	})
	sc.Defer(cancelStopped)

	p := poller.New(id, e.transport, poller.Options{
		Interval:     e.opts.PollInterval,
		ConfirmAfter: e.opts.ConfirmAfter,
		Clock:        e.opts.Clock,
		Logger:       v.log,
		Table:        e.table,
		Buffer:       v.buffer,
		Reporter:     e.ledger,
		Bus:          e.bus,
		OnUpdate:     func(u poller.Update) { e.emit(LogsEvent{Update: u}) },
		OnFailed:     func(rec session.FailureRecord) { e.emit(FailedEvent{Record: rec}) },
		OnUnreachable: func(id string, err error) {
			e.emit(UnreachableEvent{ID: id, Err: err})
		},
	})
	sc.Go(func(ctx context.Context) {
		defer close(v.done)
		out := p.Run(ctx)
		v.mu.Lock()
		v.outcome = out
		v.mu.Unlock()
		v.log.Debug().Str("outcome", out.String()).Msg("poller finished")
	})

	if e.dialer != nil && surface != nil {
		a, err := terminal.Attach(sc.Context(), e.dialer, id, surface, terminal.Options{
			Status:            e.transport,
			Table:             e.table,
			ReconcileInterval: e.opts.ReconcileInterval,
			Clock:             e.opts.Clock,
			Logger:            v.log,
			OnOutput:          func(n int) { e.emit(OutputEvent{ID: id, N: n}) },
			OnReconcile: func(r client.StatusReport) {
				e.emit(ReconcileEvent{ID: id, Report: r})
			},
			OnEnd: func(err error) { e.emit(StreamEndedEvent{ID: id, Err: err}) },
		})
		if err != nil {
			v.log.Debug().Err(err).Msg("attach failed")
			e.emit(StreamEndedEvent{ID: id, Err: err})
		} else {
			v.mu.Lock()
			v.attachment = a
			v.mu.Unlock()
			sc.Defer(func() { _ = a.Close() })
		}
	}
	return v
}

// recordAge writes the countdown and any replacement link to the table.
// Status is left to the poller.
func (e *Engine) recordAge(id string, snap age.Snapshot) {
	_, err := e.table.Update(id, func(s *session.Session) {
		if snap.State.Age > 0 || snap.Status == session.Stopped {
			s.Age = snap.Remaining
		} else {
			s.Age = snap.State.Age
		}
		if snap.ReplacedBy != "" {
			s.BeingReplacedBy = snap.ReplacedBy
		}
	})
	if err != nil {
		e.log.Debug().Err(err).Str("session", id).Msg("age not recorded")
	}
}

func (v *View) ID() string { return v.id }

// Logs returns the merged log of the session.
func (v *View) Logs() []session.LogEntry { return v.buffer.Entries() }

// Age returns the current countdown snapshot.
func (v *View) Age() age.Snapshot { return v.estimator.Snapshot() }

// Surface returns the surface the stream writes to.
func (v *View) Surface() terminal.Surface { return v.surface }

// Attachment returns the terminal attachment, or nil when none is open.
func (v *View) Attachment() *terminal.Attachment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attachment
}

// Done is closed when the poller stops, either because the session
// failed or became unreachable, or because the view was closed.
func (v *View) Done() <-chan struct{} { return v.done }

// Outcome is how the poller finished. It is meaningful after Done.
func (v *View) Outcome() poller.Outcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.outcome
}

// Resize forwards a new surface size to the attachment.
func (v *View) Resize(cols, rows int) error {
	a := v.Attachment()
	if a == nil {
		if v.surface != nil {
			v.surface.Resize(cols, rows)
		}
		return nil
	}
	return a.Resize(cols, rows)
}

// Close releases everything the view started and untracks the session.
// It waits for the view's goroutines and is safe to call more than once.
func (v *View) Close() {
	v.scope.Close()
}
