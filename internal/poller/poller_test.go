package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/failure"
	"github.com/agent-racer/preview/internal/logs"
	"github.com/agent-racer/preview/internal/session"
)

var (
	errDown     = errors.New("connection refused")
	errNotFound = &client.APIError{Method: "GET", Path: "/x", StatusCode: 404}
)

type logsReply struct {
	report client.LogsReport
	err    error
}

type fakeFetcher struct {
	mu       sync.Mutex
	logs     []logsReply
	sinces   []string
	failed   session.FailureRecord
	failErr  error
	confirms int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeFetcher) Logs(_ context.Context, _ string, since string) (client.LogsReport, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	if n > f.maxInflight.Load() {
		f.maxInflight.Store(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if len(f.logs) == 0 {
		return client.LogsReport{Status: session.Started}, nil
	}
	r := f.logs[0]
	f.logs = f.logs[1:]
	return r.report, r.err
}

func (f *fakeFetcher) FailedSession(context.Context, string) (session.FailureRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return f.failed, f.failErr
}

func (f *fakeFetcher) Sinces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sinces...)
}

func entries(ids ...string) []session.LogEntry {
	out := make([]session.LogEntry, len(ids))
	for i, id := range ids {
		out[i] = session.LogEntry{ID: id, Level: session.LevelInfo, Message: id}
	}
	return out
}

func TestWatermarkAdvances(t *testing.T) {
	f := &fakeFetcher{logs: []logsReply{
		{report: client.LogsReport{Status: session.Started, Entries: entries("log-8", "log-9")}},
	}}
	buf := logs.NewBuffer(entries("log-1", "log-7"))
	p := New("s3", f, Options{Buffer: buf})

	require.Equal(t, Continue, p.Cycle(context.Background()))
	require.Equal(t, Continue, p.Cycle(context.Background()))

	assert.Equal(t, []string{"log-7", "log-9"}, f.Sinces())
	assert.Equal(t, "log-9", buf.Watermark())
}

func TestEmptyBufferHasNoWatermark(t *testing.T) {
	f := &fakeFetcher{}
	p := New("s3", f, Options{})
	p.Cycle(context.Background())
	assert.Equal(t, []string{""}, f.Sinces())
}

func TestUpdateWritesTable(t *testing.T) {
	table := session.NewTable()
	require.NoError(t, table.Put(&session.Session{ID: "s1", Status: session.Starting}))

	f := &fakeFetcher{logs: []logsReply{
		{report: client.LogsReport{Status: session.Started, Entries: entries("a", "b")}},
		{report: client.LogsReport{Status: session.Started, Entries: entries("b", "c")}},
	}}
	var updates []Update
	p := New("s1", f, Options{Table: table, OnUpdate: func(u Update) { updates = append(updates, u) }})

	p.Cycle(context.Background())
	p.Cycle(context.Background())

	s, ok := table.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.Started, s.Status)
	require.Len(t, s.Logs, 3)
	assert.Equal(t, "c", s.Logs[2].ID)

	require.Len(t, updates, 2)
	assert.Len(t, updates[1].Added, 1, "overlapping entry must not be re-added")
	assert.Equal(t, "c", updates[1].Watermark)
}

func TestConfirmedFailurePublishesOnce(t *testing.T) {
	bus := failure.NewBus()
	ledger := failure.NewLedger(bus, nil, zerolog.Nop())

	published := 0
	bus.Subscribe("s2", failure.EventFailed, func(session.Session) { published++ })

	f := &fakeFetcher{
		logs: []logsReply{{err: errDown}, {err: errDown}},
		failed: session.FailureRecord{Session: session.Session{
			ID: "s2", Status: session.StartFailed, KillReason: session.KillBuildFailed,
		}},
	}
	table := session.NewTable()
	require.NoError(t, table.Put(&session.Session{ID: "s2", Status: session.Starting}))

	var failed []session.FailureRecord
	p := New("s2", f, Options{
		ConfirmAfter: 2,
		Table:        table,
		Reporter:     ledger,
		OnFailed:     func(rec session.FailureRecord) { failed = append(failed, rec) },
		OnUnreachable: func(string, error) {
			t.Error("unexpected unreachable")
		},
	})

	assert.Equal(t, Continue, p.Cycle(context.Background()))
	assert.Equal(t, 0, f.confirms)
	assert.Equal(t, Failed, p.Cycle(context.Background()))

	assert.Equal(t, 1, f.confirms)
	assert.Equal(t, 1, published)
	assert.Len(t, failed, 1)

	s, _ := table.Get("s2")
	assert.Equal(t, session.StartFailed, s.Status)
	assert.Equal(t, session.KillBuildFailed, s.KillReason)

	// A second confirmation of the same failure is not re-published.
	bus.Subscribe("s2", failure.EventFailed, func(session.Session) { published++ })
	f.logs = []logsReply{{err: errDown}, {err: errDown}}
	p.Cycle(context.Background())
	p.Cycle(context.Background())
	assert.Equal(t, 1, published)
}

func TestConfirmationNotFoundIsUnreachable(t *testing.T) {
	bus := failure.NewBus()
	ledger := failure.NewLedger(bus, nil, zerolog.Nop())
	published := 0
	bus.Subscribe("s2", failure.EventFailed, func(session.Session) { published++ })

	f := &fakeFetcher{
		logs:    []logsReply{{err: errDown}, {err: errDown}},
		failErr: errNotFound,
	}
	var gone []string
	var goneErr error
	p := New("s2", f, Options{
		ConfirmAfter: 2,
		Reporter:     ledger,
		OnUnreachable: func(id string, err error) {
			gone = append(gone, id)
			goneErr = err
		},
	})

	assert.Equal(t, Continue, p.Cycle(context.Background()))
	assert.Equal(t, Unreachable, p.Cycle(context.Background()))
	assert.Equal(t, []string{"s2"}, gone)
	assert.ErrorIs(t, goneErr, client.ErrNotFound)
	assert.Equal(t, 0, published)
}

func TestConfirmationErrorIsUnreachable(t *testing.T) {
	f := &fakeFetcher{
		logs:    []logsReply{{err: errDown}},
		failErr: errors.New("bad gateway"),
	}
	var goneErr error
	p := New("s2", f, Options{OnUnreachable: func(_ string, err error) { goneErr = err }})

	assert.Equal(t, Unreachable, p.Cycle(context.Background()))
	require.Error(t, goneErr)
	assert.Contains(t, goneErr.Error(), "bad gateway")
	assert.Contains(t, goneErr.Error(), "connection refused")
}

func TestNotFoundSkipsConfirmation(t *testing.T) {
	f := &fakeFetcher{logs: []logsReply{{err: errNotFound}}}
	unreachable := 0
	p := New("gone", f, Options{
		ConfirmAfter:  3,
		OnUnreachable: func(string, error) { unreachable++ },
	})

	assert.Equal(t, Unreachable, p.Cycle(context.Background()))
	assert.Equal(t, 0, f.confirms)
	assert.Equal(t, 1, unreachable)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	f := &fakeFetcher{logs: []logsReply{
		{err: errDown},
		{report: client.LogsReport{Status: session.Started}},
		{err: errDown},
	}}
	p := New("s1", f, Options{ConfirmAfter: 2})
	for i := 0; i < 3; i++ {
		assert.Equal(t, Continue, p.Cycle(context.Background()), "cycle %d", i)
	}
	assert.Equal(t, 0, f.confirms)
}

func TestReportedFailedStatusIsConfirmed(t *testing.T) {
	f := &fakeFetcher{
		logs: []logsReply{{report: client.LogsReport{Status: session.StopFailed, Entries: entries("x")}}},
		failed: session.FailureRecord{Session: session.Session{ID: "s1", Status: session.StopFailed}},
	}
	p := New("s1", f, Options{})
	assert.Equal(t, Failed, p.Cycle(context.Background()))
	assert.Equal(t, 1, f.confirms)
	assert.Equal(t, "x", p.Buffer().Watermark(), "logs of the failing fetch are kept")
}

func TestStoppedPublishedOnTransition(t *testing.T) {
	bus := failure.NewBus()
	stopped := 0
	bus.Subscribe("s1", failure.EventStopped, func(session.Session) { stopped++ })

	f := &fakeFetcher{logs: []logsReply{
		{report: client.LogsReport{Status: session.Stopping}},
		{report: client.LogsReport{Status: session.Stopped}},
		{report: client.LogsReport{Status: session.Stopped}},
	}}
	p := New("s1", f, Options{Bus: bus})
	for i := 0; i < 3; i++ {
		p.Cycle(context.Background())
	}
	assert.Equal(t, 1, stopped)
}

func TestRunSchedulesAfterCompletion(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	f := &fakeFetcher{}
	cycles := make(chan Update, 16)
	p := New("s1", f, Options{
		Clock:    fake,
		Interval: time.Second,
		OnUpdate: func(u Update) { cycles <- u },
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan Outcome, 1)
	go func() { result <- p.Run(ctx) }()

	wait := func() {
		t.Helper()
		select {
		case <-cycles:
		case <-time.After(2 * time.Second):
			t.Fatal("no poll cycle")
		}
	}

	wait()
	for i := 0; i < 3; i++ {
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		wait()
	}

	// Nothing is due until a full interval has passed.
	fake.WaitForTimers(1)
	fake.Advance(500 * time.Millisecond)
	assert.Never(t, func() bool { return len(cycles) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	cancel()
	assert.Equal(t, Cancelled, <-result)
	assert.Len(t, f.Sinces(), 4)
	assert.Equal(t, int32(1), f.maxInflight.Load())
}

func TestRunStopsOnUnreachable(t *testing.T) {
	f := &fakeFetcher{logs: []logsReply{{err: errNotFound}}}
	p := New("s1", f, Options{Clock: clock.Fake(time.Now())})
	assert.Equal(t, Unreachable, p.Run(context.Background()))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unreachable", Unreachable.String())
	assert.Equal(t, "cancelled", Cancelled.String())
}
