// Package age estimates how long a session has left to live.
//
// The server is the authority on a session's remaining age, but polling
// it every second just to animate a countdown is wasteful. An Estimator
// decrements a local copy once per tick and overwrites it with the
// server's value on a slower refresh cadence, so drift is bounded by the
// refresh interval.
package age

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/session"
)

const (
	DefaultTick    = time.Second
	DefaultRefresh = 10 * time.Second

	// placeholder is shown for sessions whose server age is the
	// no-expiration sentinel or already at or below zero while the
	// session is still running. It keeps the countdown positive so the
	// terminal display state is not derived for them.
	placeholder = 1
)

// Display is the state derived from the displayed countdown.
type Display int

const (
	DisplayRunning Display = iota
	DisplayExpired
	DisplayReplaced
)

func (d Display) String() string {
	switch d {
	case DisplayExpired:
		return "expired"
	case DisplayReplaced:
		return "replaced"
	default:
		return "running"
	}
}

// State is the authoritative input to the estimator.
type State struct {
	Age        int
	Status     session.Status
	KillReason session.KillReason
	ReplacedBy string
}

// StateFromReport converts a status response.
func StateFromReport(r client.StatusReport) State {
	return State{
		Age:        r.Age,
		Status:     r.Status,
		KillReason: r.KillReason,
		ReplacedBy: r.ReplacedBy,
	}
}

// Snapshot is what a renderer reads.
type Snapshot struct {
	State

	// Remaining is the displayed countdown in seconds. Never negative.
	Remaining int
	Display   Display
	// Live reports whether the countdown is still decrementing.
	Live bool
}

// Fetcher returns the authoritative status of a session.
type Fetcher interface {
	Status(ctx context.Context, id string) (client.StatusReport, error)
}

type Options struct {
	Tick    time.Duration
	Refresh time.Duration
	Clock   clock.Clock
	Logger  zerolog.Logger

	// OnChange is called after every change to the snapshot, from the
	// estimator's goroutine or from the caller of Apply/Tick.
	OnChange func(Snapshot)
}

func (o *Options) defaults() {
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Refresh <= 0 {
		o.Refresh = DefaultRefresh
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

// Estimator maintains the countdown for one session.
type Estimator struct {
	id      string
	fetcher Fetcher
	opts    Options

	mu   sync.Mutex
	snap Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an estimator seeded with initial. It does not start any
// timers until Start is called.
func New(id string, initial State, fetcher Fetcher, opts Options) *Estimator {
	opts.defaults()
	e := &Estimator{id: id, fetcher: fetcher, opts: opts}
	e.snap = Derive(initial)
	return e
}

// Derive computes the snapshot a fresh estimator would start from.
func Derive(st State) Snapshot {
	s := Snapshot{State: st}
	switch {
	case st.Status == session.Stopped:
		s.Remaining = 0
	case st.Age <= 0:
		s.Remaining = placeholder
	default:
		s.Remaining = st.Age
		s.Live = true
	}
	s.Display = displayFor(s.Remaining, st.KillReason)
	return s
}

func displayFor(remaining int, reason session.KillReason) Display {
	if remaining > 0 {
		return DisplayRunning
	}
	if reason == session.KillReplaced {
		return DisplayReplaced
	}
	return DisplayExpired
}

// Snapshot returns the current countdown.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Apply replaces the whole state with an authoritative value.
func (e *Estimator) Apply(st State) Snapshot {
	snap := e.apply(st)
	e.notify(snap)
	return snap
}

func (e *Estimator) apply(st State) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap = Derive(st)
	return e.snap
}

// Tick decrements a live countdown by one. It reports the resulting
// snapshot; ticks on a countdown that is not live change nothing.
func (e *Estimator) Tick() Snapshot {
	snap, changed := e.tick()
	if changed {
		e.notify(snap)
	}
	return snap
}

func (e *Estimator) tick() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.snap.Live {
		return e.snap, false
	}
	e.snap.Remaining--
	if e.snap.Remaining <= 0 {
		e.snap.Remaining = 0
		e.snap.Live = false
	}
	e.snap.Display = displayFor(e.snap.Remaining, e.snap.KillReason)
	return e.snap, true
}

func (e *Estimator) notify(s Snapshot) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(s)
	}
}

// Start refreshes immediately and then keeps the countdown going until
// ctx is cancelled, Stop is called, or the server reports the session
// stopped. Calling Start twice panics.
func (e *Estimator) Start(ctx context.Context) {
	if e.done != nil {
		panic("age: estimator started twice")
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
}

// Stop cancels every timer and waits for the estimator goroutine.
func (e *Estimator) Stop() {
	if e.done == nil {
		return
	}
	e.cancel()
	<-e.done
}

// Done is closed when the estimator goroutine has exited.
func (e *Estimator) Done() <-chan struct{} { return e.done }

func (e *Estimator) run(ctx context.Context) {
	defer close(e.done)
	log := e.opts.Logger.With().Str("session", e.id).Logger()

	var ticker *clock.Ticker
	var tickC <-chan time.Time
	stopTicking := func() {
		if ticker != nil {
			ticker.Stop()
		}
		tickC = nil
	}
	defer stopTicking()

	refresh := e.opts.Clock.After(0)
	for {
		select {
		case <-ctx.Done():
			return

		case <-refresh:
			report, err := e.fetcher.Status(ctx, e.id)
			if ctx.Err() != nil {
				return
			}
			snap, changed := e.Snapshot(), false
			if err != nil {
				log.Debug().Err(err).Msg("age refresh failed")
			} else {
				snap, changed = e.apply(StateFromReport(report)), true
			}
			if snap.Status == session.Stopped {
				stopTicking()
				e.notify(snap)
				log.Debug().Msg("session stopped; countdown pinned")
				return
			}
			// Timers are rearmed before observers hear about the new
			// state, so a refresh restarts the tick cadence from now.
			if snap.Live {
				if ticker == nil {
					ticker = e.opts.Clock.NewTicker(e.opts.Tick)
				} else {
					ticker.Reset(e.opts.Tick)
				}
				tickC = ticker.C
			} else {
				stopTicking()
			}
			refresh = e.opts.Clock.After(e.opts.Refresh)
			if changed {
				e.notify(snap)
			}

		case <-tickC:
			snap, changed := e.tick()
			if !snap.Live {
				stopTicking()
			}
			if changed {
				e.notify(snap)
			}
		}
	}
}

// FormatRemaining renders a countdown like "1h 02m 03s", "4m 05s" or
// "12s". Negative values render as "no expiry".
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		return "no expiry"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
