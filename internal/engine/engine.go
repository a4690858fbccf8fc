// Package engine wires the sync components together for a client: it
// keeps the session table current, surfaces failures as notifications
// and opens one View at a time on the session the user is looking at.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/failure"
	"github.com/agent-racer/preview/internal/notify"
	"github.com/agent-racer/preview/internal/scope"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/terminal"
)

const (
	eventBuffer = 1024
	ackTimeout  = 5 * time.Second
)

// Transport is the REST surface the engine needs. *client.HTTPClient
// implements it.
type Transport interface {
	ListSessions(ctx context.Context) ([]*session.Session, error)
	CreateSession(ctx context.Context, req client.CreateRequest) (*session.Session, error)
	Status(ctx context.Context, id string) (client.StatusReport, error)
	Logs(ctx context.Context, id, since string) (client.LogsReport, error)
	FailedSession(ctx context.Context, id string) (session.FailureRecord, error)
	FailedSessions(ctx context.Context) ([]session.FailureRecord, error)
	AcknowledgeFailure(ctx context.Context, id string) error
	Track(ctx context.Context, id string) error
	Untrack(ctx context.Context, id string) error
}

// StreamDialer adapts a stream client to terminal.Dialer.
func StreamDialer(c *client.StreamClient) terminal.Dialer {
	return terminal.DialerFunc(func(ctx context.Context, id string) (terminal.Stream, error) {
		s, err := c.Dial(ctx, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

type Options struct {
	PollInterval      time.Duration
	ConfirmAfter      int
	ListInterval      time.Duration
	AgeTick           time.Duration
	AgeRefresh        time.Duration
	WatchInterval     time.Duration
	ReconcileInterval time.Duration
	// NoticeExpiration applies to informational notifications. Failure
	// notifications stay until dismissed.
	NoticeExpiration time.Duration

	Clock  clock.Clock
	Logger zerolog.Logger
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.ListInterval <= 0 {
		o.ListInterval = 5 * time.Second
	}
	if o.WatchInterval <= 0 {
		o.WatchInterval = 15 * time.Second
	}
}

// Engine is the client's sync core. Create it with New, call Start once,
// and Close it on exit.
type Engine struct {
	transport Transport
	dialer    terminal.Dialer
	opts      Options
	log       zerolog.Logger

	table   *session.Table
	bus     *failure.Bus
	ledger  *failure.Ledger
	watcher *failure.Watcher
	notes   *notify.Queue

	scope  *scope.Scope
	events chan Event

	openMu sync.Mutex

	mu         sync.Mutex
	subscribed map[string]func()
	view       *View
	started    bool
}

// New creates an engine. dialer may be nil, in which case views open
// without a terminal stream.
func New(transport Transport, dialer terminal.Dialer, opts Options) *Engine {
	opts.defaults()
	e := &Engine{
		transport:  transport,
		dialer:     dialer,
		opts:       opts,
		log:        opts.Logger,
		table:      session.NewTable(),
		bus:        failure.NewBus(),
		notes:      notify.NewQueue(opts.Clock),
		scope:      scope.New(context.Background()),
		events:     make(chan Event, eventBuffer),
		subscribed: make(map[string]func()),
	}
	e.ledger = failure.NewLedger(e.bus, transport, opts.Logger)
	e.watcher = failure.NewWatcher(transport, e.ledger, opts.Clock, opts.WatchInterval, opts.Logger)
	e.watcher.Before(e.Sync)
	e.notes.OnChange(func(list []notify.Notification) {
		e.emit(NotificationsEvent{List: list})
	})
	return e
}

// Events delivers everything the engine reports. The channel is never
// closed; reads should select on the caller's own shutdown as well.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) Table() *session.Table         { return e.table }
func (e *Engine) Bus() *failure.Bus             { return e.bus }
func (e *Engine) Ledger() *failure.Ledger       { return e.ledger }
func (e *Engine) Notifications() *notify.Queue { return e.notes }

// Start runs the failed-bucket watcher, which syncs the session list
// before every check, and the list refresh loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.scope.Go(e.watcher.Run)
	e.scope.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.opts.Clock.After(e.opts.ListInterval):
			}
			if err := e.Sync(ctx); err != nil && ctx.Err() == nil {
				e.emit(ErrorEvent{Op: "list sessions", Err: err})
			}
		}
	})
}

// Close closes the open view and stops every background loop.
func (e *Engine) Close() {
	e.mu.Lock()
	v := e.view
	e.view = nil
	e.mu.Unlock()
	if v != nil {
		v.Close()
	}
	e.scope.Close()

	e.mu.Lock()
	for id, cancel := range e.subscribed {
		cancel()
		delete(e.subscribed, id)
	}
	e.mu.Unlock()
}

// Sync lists the server's sessions into the table and subscribes to
// failures of every session it has not subscribed to yet. Logs already
// in the table are kept. Sessions the server no longer lists are dropped
// along with their subscription, except the one open in the view.
func (e *Engine) Sync(ctx context.Context) error {
	known := e.table.All()
	list, err := e.transport.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	listed := make(map[string]bool, len(list))
	for _, s := range list {
		listed[s.ID] = true
		e.upsert(s)
		e.watchFailure(s.ID)
	}
	// Only sessions known before the request can be stale; one created
	// while it was in flight is simply missing from this list.
	for _, s := range known {
		if !listed[s.ID] {
			e.prune(s.ID)
		}
	}
	e.emit(SessionsEvent{Sessions: e.table.All()})
	return nil
}

func (e *Engine) prune(id string) {
	e.mu.Lock()
	if e.view != nil && e.view.ID() == id {
		e.mu.Unlock()
		return
	}
	cancel, ok := e.subscribed[id]
	delete(e.subscribed, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
	e.table.Remove(id)
	e.log.Debug().Str("session", id).Msg("session no longer listed")
}

func (e *Engine) upsert(s *session.Session) {
	found, err := e.table.Update(s.ID, func(cur *session.Session) {
		logs := cur.Logs
		*cur = *s.Clone()
		if len(cur.Logs) == 0 {
			cur.Logs = logs
		}
	})
	if err != nil {
		e.log.Warn().Err(err).Str("session", s.ID).Msg("session not updated")
		return
	}
	if !found {
		if err := e.table.Put(s.Clone()); err != nil {
			e.log.Warn().Err(err).Str("session", s.ID).Msg("session not added")
		}
	}
}

// CreateSession creates a session and subscribes to its failure before
// returning, so a failure during startup is never missed.
func (e *Engine) CreateSession(ctx context.Context, req client.CreateRequest) (*session.Session, error) {
	s, err := e.transport.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.upsert(s)
	e.watchFailure(s.ID)
	e.notes.Push(notify.Notification{
		ID:         "created-" + s.ID,
		Text:       fmt.Sprintf("Session %s is starting", s.DisplayName()),
		Severity:   notify.Info,
		Expiration: e.opts.NoticeExpiration,
	})
	e.emit(SessionsEvent{Sessions: e.table.All()})
	return s, nil
}

// watchFailure subscribes the failure notification for id once. The
// subscription is single-shot; a later sync re-subscribes, but the
// ledger never publishes the same failure twice.
func (e *Engine) watchFailure(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribed[id]; ok || e.scope.Closed() {
		return
	}
	e.subscribed[id] = e.bus.Subscribe(id, failure.EventFailed, func(s session.Session) {
		e.mu.Lock()
		delete(e.subscribed, id)
		e.mu.Unlock()
		e.notifyFailure(s)
	})
}

func failureNoticeID(id string) string { return "failure-" + id }

func (e *Engine) notifyFailure(s session.Session) {
	name := s.DisplayName()
	if cur, ok := e.table.Get(s.ID); ok {
		name = cur.DisplayName()
	}
	text := fmt.Sprintf("Session %s failed (%s)", name, s.Status)
	if s.KillReason != session.KillNone {
		text = fmt.Sprintf("Session %s failed: %s", name, s.KillReason)
	}
	id := s.ID
	e.notes.Push(notify.Notification{
		ID:       failureNoticeID(id),
		Text:     text,
		Severity: notify.Error,
		OnClick:  func() { e.emit(FocusEvent{ID: id}) },
		OnDismiss: func() {
			e.scope.Go(func(ctx context.Context) {
				ctx, cancel := context.WithTimeout(ctx, ackTimeout)
				defer cancel()
				if err := e.ledger.Acknowledge(ctx, id); err != nil && ctx.Err() == nil {
					e.emit(ErrorEvent{Op: "acknowledge", Err: err})
				}
			})
		},
	})
}

// Acknowledge acknowledges id's failure on the server and drops its
// notification.
func (e *Engine) Acknowledge(ctx context.Context, id string) error {
	if err := e.ledger.Acknowledge(ctx, id); err != nil {
		return err
	}
	e.notes.Remove(failureNoticeID(id))
	return nil
}

// Latest follows id's replacement chain to its newest session.
func (e *Engine) Latest(id string) string { return e.table.Latest(id) }

// Current returns the open view, or nil.
func (e *Engine) Current() *View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Open closes the current view, if any, and opens one on id. surface may
// be nil to skip the terminal stream.
func (e *Engine) Open(ctx context.Context, id string, surface terminal.Surface) (*View, error) {
	e.openMu.Lock()
	defer e.openMu.Unlock()
	e.CloseView()
	if e.scope.Closed() {
		return nil, errors.New("engine closed")
	}

	s, ok := e.table.Get(id)
	if !ok {
		report, err := e.transport.Status(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", id, err)
		}
		s = &session.Session{
			ID:              id,
			Status:          report.Status,
			Age:             report.Age,
			KillReason:      report.KillReason,
			BeingReplacedBy: report.ReplacedBy,
			Integrations:    report.Integrations,
		}
		e.upsert(s)
	}

	e.watchFailure(id)
	v := openView(ctx, e, s, surface)
	e.mu.Lock()
	e.view = v
	e.mu.Unlock()
	return v, nil
}

// CloseView closes the open view, if any.
func (e *Engine) CloseView() {
	e.mu.Lock()
	v := e.view
	e.view = nil
	e.mu.Unlock()
	if v != nil {
		v.Close()
	}
}

// Leave closes v. It is only forgotten as the open view if it still is
// one, so a late Leave never closes a view opened after it.
func (e *Engine) Leave(v *View) {
	e.mu.Lock()
	if e.view == v {
		e.view = nil
	}
	e.mu.Unlock()
	v.Close()
}

// emit never blocks; a full channel drops the event.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("event dropped")
	}
}
