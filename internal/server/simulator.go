package server

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/session"
)

const (
	ansiDim   = "\x1b[2m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// buildScript is what a simulated session prints while starting.
var buildScript = []struct {
	level session.Level
	line  string
}{
	{session.LevelInfo, "cloning repository"},
	{session.LevelStdout, "$ npm ci"},
	{session.LevelStdout, "added 1184 packages in 14s"},
	{session.LevelStdout, "$ npm run build"},
	{session.LevelDebug, "webpack: compiling 412 modules"},
	{session.LevelWarn, "bundle size exceeds recommended limit (312 KiB)"},
	{session.LevelStdout, "build finished"},
	{session.LevelInfo, "waiting for healthcheck"},
}

var runtimeLines = []string{
	"GET / 200 12ms",
	"GET /api/items 200 31ms",
	"POST /api/items 201 48ms",
	"GET /static/app.js 304 2ms",
	"GET /healthz 200 1ms",
}

type simState struct {
	step     int
	willFail bool
}

// Simulator advances every session in the store through a plausible
// lifecycle: Starting prints a build script and then becomes Started or
// StartFailed, Started sessions serve traffic and count their age down,
// and a session whose replacement has started is stopped as Replaced.
type Simulator struct {
	store  *Store
	hub    *Hub
	clock  clock.Clock
	tick   time.Duration
	logger zerolog.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	states      map[string]*simState
}

type SimulatorOptions struct {
	Tick        time.Duration
	FailureRate float64
	Seed        int64
	Clock       clock.Clock
	Logger      zerolog.Logger
}

func NewSimulator(store *Store, hub *Hub, opts SimulatorOptions) *Simulator {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		store:       store,
		hub:         hub,
		clock:       opts.Clock,
		tick:        opts.Tick,
		logger:      opts.Logger,
		rng:         rand.New(rand.NewSource(opts.Seed)),
		failureRate: opts.FailureRate,
		states:      make(map[string]*simState),
	}
}

// Seed creates n demo sessions.
func (g *Simulator) Seed(n int) error {
	refs := []string{"main", "feature/search", "fix/login-redirect", "release/2.4", "chore/deps"}
	for i := 0; i < n; i++ {
		ref := refs[i%len(refs)]
		_, err := g.store.Create(client.CreateRequest{
			Name: fmt.Sprintf("preview-%d", i+1),
			Ref:  ref,
			TTL:  300 + 120*i,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Run advances the simulation every tick until ctx is cancelled.
func (g *Simulator) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}

// Step advances every session by one tick.
func (g *Simulator) Step() {
	for _, s := range g.store.All() {
		g.advance(s)
	}
}

func (g *Simulator) state(id string) *simState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[id]
	if !ok {
		st = &simState{willFail: g.rng.Float64() < g.failureRate}
		g.states[id] = st
	}
	return st
}

func (g *Simulator) advance(s *session.Session) {
	st := g.state(s.ID)
	switch s.Status {
	case session.Starting:
		g.advanceStarting(s, st)
	case session.Started, session.Degraded:
		g.advanceStarted(s, st)
	case session.Stopping:
		g.finishStop(s)
	}
}

func (g *Simulator) advanceStarting(s *session.Session, st *simState) {
	if st.willFail && st.step == len(buildScript)/2 {
		g.emit(s.ID, session.LevelError, ansiRed+"npm ERR! code ELIFECYCLE"+ansiReset)
		g.setStatus(s.ID, session.StartFailed, session.KillBuildFailed)
		return
	}
	if st.step < len(buildScript) {
		line := buildScript[st.step]
		g.emit(s.ID, line.level, line.line)
		st.step++
		return
	}
	g.emit(s.ID, session.LevelInfo, ansiGreen+"preview is live"+ansiReset)
	g.store.Update(s.ID, func(sess *session.Session) {
		sess.Status = session.Started
		if sess.Integrations == nil {
			sess.Integrations = map[string]string{}
		}
		sess.Integrations["url"] = fmt.Sprintf("https://%s.preview.local", s.DisplayName())
	})
	st.step = 0

	// A started replacement retires the sessions it replaces.
	for _, old := range s.Replaces {
		g.store.Update(old, func(sess *session.Session) {
			if sess.Status == session.Started || sess.Status == session.Degraded {
				sess.Status = session.Stopping
				sess.KillReason = session.KillReplaced
			}
		})
	}
}

func (g *Simulator) advanceStarted(s *session.Session, st *simState) {
	st.step++
	g.emit(s.ID, session.LevelStdout, ansiDim+runtimeLines[st.step%len(runtimeLines)]+ansiReset)

	if s.Age == session.NoExpiration {
		return
	}
	elapsed := max(int(g.tick/time.Second), 1)
	age := s.Age - elapsed
	if age <= 0 {
		g.emit(s.ID, session.LevelInfo, "lifetime reached, stopping")
		g.store.Update(s.ID, func(sess *session.Session) {
			sess.Age = 0
			sess.Status = session.Stopping
			sess.KillReason = session.KillStopped
		})
		return
	}
	g.store.Update(s.ID, func(sess *session.Session) { sess.Age = age })
}

func (g *Simulator) finishStop(s *session.Session) {
	g.emit(s.ID, session.LevelInfo, "stopped")
	g.store.Update(s.ID, func(sess *session.Session) {
		sess.Status = session.Stopped
		sess.Age = 0
	})
	g.hub.End(s.ID)
}

func (g *Simulator) setStatus(id string, status session.Status, reason session.KillReason) {
	g.store.Update(id, func(sess *session.Session) {
		sess.Status = status
		sess.KillReason = reason
	})
	g.logger.Info().Str("session", id).Str("status", status.String()).Msg("session transitioned")
}

// emit writes one line to the session log and its terminal stream.
func (g *Simulator) emit(id string, level session.Level, line string) {
	if _, err := g.store.AppendLog(id, level, line); err != nil {
		g.logger.Debug().Err(err).Str("session", id).Msg("append log")
		return
	}
	g.hub.Write(id, []byte(line+"\r\n"))
}

// Fail forces id into StartFailed. Used by tests and the demo.
func (g *Simulator) Fail(id string, reason session.KillReason) {
	g.emit(id, session.LevelCritical, ansiRed+"session failed: "+reason.String()+ansiReset)
	g.setStatus(id, session.StartFailed, reason)
}

// Stop moves id to Stopping; the next step completes the stop.
func (g *Simulator) Stop(id string) {
	g.store.Update(id, func(sess *session.Session) {
		sess.Status = session.Stopping
		sess.KillReason = session.KillStopped
	})
}
