package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/clock"
	"github.com/agent-racer/preview/internal/engine"
	"github.com/agent-racer/preview/internal/server"
	"github.com/agent-racer/preview/internal/session"
)

func newModel(t *testing.T) (Model, *server.Store) {
	t.Helper()
	store := server.NewStore()
	ts := httptest.NewServer(server.New(store, server.NewHub(zerolog.Nop()), "", zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)

	eng := engine.New(client.NewHTTPClient(ts.URL, ""), nil, engine.Options{
		PollInterval: time.Second,
		Clock:        clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	t.Cleanup(eng.Close)

	m := New(eng, ts.URL)
	t.Cleanup(m.cancel)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, store
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInitializing(t *testing.T) {
	m := New(engine.New(nil, nil, engine.Options{}), "")
	if got := m.View(); got != "Initializing..." {
		t.Errorf("expected placeholder before the first size, got %q", got)
	}
}

func TestParseCreate(t *testing.T) {
	m := New(engine.New(nil, nil, engine.Options{}), "")
	tests := []struct {
		line    string
		want    client.CreateRequest
		wantErr bool
	}{
		{line: "web", want: client.CreateRequest{Name: "web"}},
		{line: "web 600", want: client.CreateRequest{Name: "web", TTL: 600}},
		{line: "  web 0 main ", want: client.CreateRequest{Name: "web", Ref: "main"}},
		{line: "", wantErr: true},
		{line: "web soon", wantErr: true},
		{line: "web -5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := m.parseCreate(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCreate(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseCreate(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestSessionsEventFillsBoard(t *testing.T) {
	m, _ := newModel(t)
	m = update(t, m, eventMsg{ev: engine.SessionsEvent{Sessions: []*session.Session{
		{ID: "a", Name: "api", Status: session.Started, Age: 300},
		{ID: "b", Name: "web", Status: session.StartFailed},
	}}})

	if m.board.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", m.board.Len())
	}
	if !m.statusBar.Connected {
		t.Error("a session list means the server is reachable")
	}
	if m.statusBar.Failed != 1 || m.statusBar.Running != 1 {
		t.Errorf("unexpected counts: %+v", m.statusBar)
	}
	v := m.View()
	for _, want := range []string{"api", "web"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestListErrorMarksDisconnected(t *testing.T) {
	m, _ := newModel(t)
	m = update(t, m, eventMsg{ev: engine.SessionsEvent{}})
	m = update(t, m, eventMsg{ev: engine.ErrorEvent{Op: "list sessions", Err: context.DeadlineExceeded}})
	if m.statusBar.Connected {
		t.Error("expected disconnected after a failed list")
	}
	if m.debug.Count("err") != 1 {
		t.Error("error should be logged to the event overlay")
	}
}

func TestOverlays(t *testing.T) {
	m, _ := newModel(t)

	m = update(t, m, runes("d"))
	if m.overlay != OverlayDebug {
		t.Fatalf("expected debug overlay, got %d", m.overlay)
	}
	if !strings.Contains(m.View(), "ENGINE EVENTS") {
		t.Error("debug overlay not rendered")
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Fatalf("esc should close the overlay, got %d", m.overlay)
	}

	m = update(t, m, runes("n"))
	if m.overlay != OverlayCreate {
		t.Fatalf("expected create prompt, got %d", m.overlay)
	}
	// Keys are text while the prompt is open.
	m = update(t, m, runes("q"))
	if m.overlay != OverlayCreate || m.input.Value() != "q" {
		t.Errorf("expected q typed into the prompt, got %q", m.input.Value())
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Error("esc should cancel the prompt")
	}
}

func TestEmptyCreateFlashes(t *testing.T) {
	m, _ := newModel(t)
	m = update(t, m, runes("n"))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd != nil {
		t.Error("nothing should be created without a name")
	}
	if m.flash == "" {
		t.Error("expected an error message")
	}
}

func TestOpenAndClose(t *testing.T) {
	m, store := newModel(t)
	s, _ := store.Create(client.CreateRequest{Name: "web", TTL: 600})
	store.AppendLog(s.ID, session.LevelStdout, "ready")
	if err := m.eng.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	msg := m.openCmd(s.ID)()
	opened, ok := msg.(openedMsg)
	if !ok || opened.err != nil {
		t.Fatalf("open failed: %+v", msg)
	}
	m = update(t, m, opened)
	if m.view == nil || m.view.ID() != s.ID {
		t.Fatal("expected the view to be open")
	}
	if m.statusBar.Attached != "web" {
		t.Errorf("status bar should name the open session, got %q", m.statusBar.Attached)
	}
	if got := m.gauge.Fraction(); got != 1 {
		t.Errorf("a fresh session should show a full gauge, got %v", got)
	}
	if !strings.Contains(m.View(), "LOGS") {
		t.Error("logs pane not rendered")
	}

	m = update(t, m, runes("t"))
	if m.pane != PaneTerminal || !strings.Contains(m.View(), "TERMINAL") {
		t.Error("t should switch to the terminal pane")
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if m.view != nil {
		t.Fatal("esc should leave the session")
	}
	if cmd == nil {
		t.Fatal("expected a command releasing the view")
	}
	cmd()
	if m.eng.Current() != nil {
		t.Error("engine view still open")
	}
	if n := store.Tracked(s.ID); n != 0 {
		t.Errorf("expected session untracked, tracked by %d", n)
	}
}

func TestStaleOpenIsIgnored(t *testing.T) {
	m, store := newModel(t)
	a, _ := store.Create(client.CreateRequest{Name: "a"})
	b, _ := store.Create(client.CreateRequest{Name: "b"})

	first := m.openCmd(a.ID)().(openedMsg)
	second := m.openCmd(b.ID)().(openedMsg)

	m = update(t, m, second)
	m = update(t, m, first)
	if m.view == nil || m.view.ID() != b.ID {
		t.Errorf("expected the later open to win")
	}
}

func TestUnreachableLeavesView(t *testing.T) {
	m, store := newModel(t)
	s, _ := store.Create(client.CreateRequest{Name: "web"})
	m = update(t, m, m.openCmd(s.ID)().(openedMsg))

	next, cmd := m.Update(eventMsg{ev: engine.UnreachableEvent{ID: s.ID, Err: client.ErrNotFound}})
	m = next.(Model)
	if m.view != nil {
		t.Error("an unreachable session should be left")
	}
	if cmd == nil || !strings.Contains(m.flash, s.ID) {
		t.Errorf("expected a release command and a message, got flash %q", m.flash)
	}
}

func TestFocusOpens(t *testing.T) {
	m, _ := newModel(t)
	m.overlay = OverlayDebug
	cmd := m.handleEvent(engine.FocusEvent{ID: "x"})
	if cmd == nil {
		t.Fatal("focus should open the session")
	}
	if m.overlay != OverlayNone {
		t.Error("focus should close overlays")
	}
}
