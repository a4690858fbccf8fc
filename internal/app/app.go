package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/preview/internal/age"
	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/engine"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/terminal"
	"github.com/agent-racer/preview/internal/theme"
	"github.com/agent-racer/preview/internal/views/board"
	"github.com/agent-racer/preview/internal/views/debug"
	"github.com/agent-racer/preview/internal/views/detail"
	"github.com/agent-racer/preview/internal/views/gauge"
	"github.com/agent-racer/preview/internal/views/logview"
	"github.com/agent-racer/preview/internal/views/notices"
	"github.com/agent-racer/preview/internal/views/status"
	"github.com/agent-racer/preview/internal/views/termview"
)

const requestTimeout = 10 * time.Second

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayCreate
	OverlayDetail
	OverlayDebug
)

// Pane selects what the open session shows.
type Pane int

const (
	PaneLogs Pane = iota
	PaneTerminal
)

type (
	eventMsg  struct{ ev engine.Event }
	openedMsg struct {
		id      string
		view    *engine.View
		surface *terminal.VTSurface
		err     error
	}
	createdMsg struct {
		s   *session.Session
		err error
	}
	doneMsg struct {
		op  string
		err error
	}
)

// Model is the root Bubble Tea model.
type Model struct {
	eng    *engine.Engine
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	overlay Overlay
	pane    Pane

	// The open session, if any.
	view    *engine.View
	surface *terminal.VTSurface
	ageMax  int

	statusBar status.Model
	board     board.Model
	notices   notices.Model
	logs      logview.Model
	gauge     gauge.Model
	detail    *detail.Model
	debug     debug.Model
	input     textinput.Model

	flash string
}

// New creates the root model. server is only displayed.
func New(eng *engine.Engine, server string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	in := textinput.New()
	in.Placeholder = "name [ttl-seconds] [ref]"
	in.CharLimit = 120
	// Shared across copies of Model so rendered markdown stays cached.
	dm := detail.New()
	return Model{
		eng:       eng,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(server),
		board:     board.New(),
		notices:   notices.New(),
		logs:      logview.New(80, 10),
		gauge:     gauge.New(30),
		detail:    &dm,
		debug:     debug.New(nil),
		input:     in,
	}
}

// Init starts reading engine events and syncs the session list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.syncCmd())
}

func (m Model) waitForEvent() tea.Cmd {
	ctx, events := m.ctx, m.eng.Events()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg{ev: ev}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) syncCmd() tea.Cmd {
	ctx, eng := m.ctx, m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return doneMsg{op: "sync", err: eng.Sync(ctx)}
	}
}

func (m Model) openCmd(id string) tea.Cmd {
	cols, rows := termview.Inner(m.paneSize())
	ctx, eng := m.ctx, m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		surface := terminal.NewVTSurface(cols, rows)
		v, err := eng.Open(ctx, id, surface)
		return openedMsg{id: id, view: v, surface: surface, err: err}
	}
}

func (m Model) createCmd(req client.CreateRequest) tea.Cmd {
	ctx, eng := m.ctx, m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		s, err := eng.CreateSession(ctx, req)
		return createdMsg{s: s, err: err}
	}
}

func (m Model) ackCmd(id string) tea.Cmd {
	ctx, eng := m.ctx, m.eng
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		return doneMsg{op: "acknowledge " + id, err: eng.Acknowledge(ctx, id)}
	}
}

func resizeCmd(v *engine.View, cols, rows int) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{op: "resize", err: v.Resize(cols, rows)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.board.Width = msg.Width
		m.notices.Width = msg.Width
		m.detail.Width = msg.Width
		m.gauge.Width = max(msg.Width/3, 10)
		w, h := m.paneSize()
		m.logs.SetSize(w, h-1)
		if m.view != nil {
			cols, rows := termview.Inner(w, h)
			return m, resizeCmd(m.view, cols, rows)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		cmd := m.handleEvent(msg.ev)
		return m, tea.Batch(cmd, m.waitForEvent())

	case openedMsg:
		if msg.err != nil {
			m.debug.Addf(debug.KindErr, "open %s: %v", msg.id, msg.err)
			m.flash = msg.err.Error()
			return m, nil
		}
		if m.eng.Current() != msg.view {
			// Superseded by a later open.
			return m, nil
		}
		m.view = msg.view
		m.surface = msg.surface
		m.board.Select(msg.id)
		m.logs.SetEntries(msg.view.Logs())
		snap := msg.view.Age()
		m.ageMax = max(snap.Remaining, 1)
		m.gauge.Jump(m.lifeFraction(snap))
		m.statusBar.Attached = m.sessionName(msg.id)
		m.flash = ""
		m.debug.Addf(debug.KindNav, "opened %s", msg.id)
		return m, nil

	case createdMsg:
		if msg.err != nil {
			m.debug.Addf(debug.KindErr, "%v", msg.err)
			m.flash = msg.err.Error()
			return m, nil
		}
		m.debug.Addf(debug.KindNav, "created %s", msg.s.ID)
		m.board.Select(msg.s.ID)
		return m, m.openCmd(msg.s.ID)

	case doneMsg:
		if msg.err != nil {
			m.debug.Addf(debug.KindErr, "%s: %v", msg.op, msg.err)
			m.flash = fmt.Sprintf("%s: %v", msg.op, msg.err)
			if msg.op == "sync" {
				m.statusBar.Connected = false
			}
		}
		return m, nil

	case gauge.FrameMsg:
		return m, m.gauge.Step()
	}

	if m.overlay == OverlayCreate {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleEvent(ev engine.Event) tea.Cmd {
	switch ev := ev.(type) {
	case engine.SessionsEvent:
		m.statusBar.Connected = true
		m.refreshSessions(ev.Sessions)

	case engine.LogsEvent:
		if m.viewing(ev.Update.ID) {
			m.logs.SetEntries(m.view.Logs())
			if len(ev.Update.Added) > 0 {
				m.debug.Addf(debug.KindPoll, "%s: %d new lines, status %s", ev.Update.ID, len(ev.Update.Added), ev.Update.Status)
			}
			m.refreshSessions(m.eng.Table().All())
		}

	case engine.AgeEvent:
		if m.viewing(ev.ID) {
			if ev.Snapshot.Remaining > m.ageMax {
				m.ageMax = ev.Snapshot.Remaining
			}
			m.refreshSessions(m.eng.Table().All())
			return m.gauge.SetFraction(m.lifeFraction(ev.Snapshot))
		}

	case engine.OutputEvent:
		// Redraw only.

	case engine.ReconcileEvent:
		m.debug.Addf(debug.KindStream, "%s reconciled: %s", ev.ID, ev.Report.Status)

	case engine.FailedEvent:
		rec := ev.Record
		m.debug.Addf(debug.KindFail, "%s failed: %s", rec.Session.ID, rec.Session.KillReason)
		m.refreshSessions(m.eng.Table().All())

	case engine.UnreachableEvent:
		m.debug.Addf(debug.KindErr, "%s unreachable: %v", ev.ID, ev.Err)
		if m.viewing(ev.ID) {
			m.flash = fmt.Sprintf("lost session %s", ev.ID)
			return m.closeView()
		}

	case engine.StoppedEvent:
		m.debug.Addf(debug.KindAge, "%s stopped", ev.ID)

	case engine.StreamEndedEvent:
		if ev.Err != nil {
			m.debug.Addf(debug.KindStream, "%s stream ended: %v", ev.ID, ev.Err)
		} else {
			m.debug.Addf(debug.KindStream, "%s stream closed", ev.ID)
		}

	case engine.NotificationsEvent:
		m.notices.SetList(ev.List)
		m.statusBar.Unacked = len(m.eng.Ledger().Unacknowledged())
		m.debug.Addf(debug.KindNotice, "%d notifications", len(ev.List))

	case engine.FocusEvent:
		m.overlay = OverlayNone
		return m.openCmd(ev.ID)

	case engine.ErrorEvent:
		m.debug.Addf(debug.KindErr, "%s: %v", ev.Op, ev.Err)
		if ev.Op == "list sessions" {
			m.statusBar.Connected = false
		}
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case OverlayCreate:
		switch msg.Type {
		case tea.KeyEsc:
			m.overlay = OverlayNone
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			req, err := m.parseCreate(m.input.Value())
			m.overlay = OverlayNone
			m.input.Blur()
			m.input.Reset()
			if err != nil {
				m.flash = err.Error()
				return m, nil
			}
			return m, m.createCmd(req)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case OverlayDebug:
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Debug):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		}
		return m, nil

	case OverlayDetail:
		if key.Matches(msg, m.keys.Escape) || key.Matches(msg, m.keys.Detail) {
			m.overlay = OverlayNone
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Escape):
		return m, m.closeView()

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		if m.view != nil {
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			return m, cmd
		}
		if key.Matches(msg, m.keys.Up) {
			m.board.Up()
		} else {
			m.board.Down()
		}
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if id := m.board.Selected(); id != "" {
			return m, m.openCmd(id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Create):
		m.overlay = OverlayCreate
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Replacement):
		id := m.target()
		if id == "" {
			return m, nil
		}
		if latest := m.eng.Latest(id); latest != id {
			m.debug.Addf(debug.KindNav, "%s replaced by %s", id, latest)
			return m, m.openCmd(latest)
		}
		m.flash = "no replacement"
		return m, nil

	case key.Matches(msg, m.keys.Acknowledge):
		if id := m.target(); id != "" {
			return m, m.ackCmd(id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Dismiss):
		if id := m.notices.Selected(); id != "" {
			m.eng.Notifications().Dismiss(id)
		}
		return m, nil

	case key.Matches(msg, m.keys.Click):
		if id := m.notices.Selected(); id != "" {
			m.eng.Notifications().Click(id)
		}
		return m, nil

	case key.Matches(msg, m.keys.NextNotice):
		m.notices.Cycle()
		return m, nil

	case key.Matches(msg, m.keys.Pane):
		if m.pane == PaneLogs {
			m.pane = PaneTerminal
		} else {
			m.pane = PaneLogs
		}
		return m, nil

	case key.Matches(msg, m.keys.Problems):
		m.logs.ToggleProblems()
		return m, nil

	case key.Matches(msg, m.keys.Detail):
		if m.target() != "" {
			m.overlay = OverlayDetail
		}
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		return m, m.syncCmd()
	}

	return m, nil
}

// parseCreate reads "name [ttl] [ref]". A session opened while creating
// is the one being replaced.
func (m Model) parseCreate(line string) (client.CreateRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return client.CreateRequest{}, fmt.Errorf("a name is required")
	}
	req := client.CreateRequest{Name: fields[0]}
	if len(fields) > 1 {
		ttl, err := strconv.Atoi(fields[1])
		if err != nil || ttl < 0 {
			return client.CreateRequest{}, fmt.Errorf("invalid ttl %q", fields[1])
		}
		req.TTL = ttl
	}
	if len(fields) > 2 {
		req.Ref = fields[2]
	}
	if m.view != nil {
		req.Replaces = m.view.ID()
	}
	return req, nil
}

// closeView forgets the open view and releases it in the background;
// untracking is a server round trip.
func (m *Model) closeView() tea.Cmd {
	v := m.view
	if v == nil {
		return nil
	}
	m.debug.Addf(debug.KindNav, "closed %s", v.ID())
	m.view = nil
	m.surface = nil
	m.statusBar.Attached = ""
	eng := m.eng
	return func() tea.Msg {
		eng.Leave(v)
		return nil
	}
}

func (m *Model) refreshSessions(sessions []*session.Session) {
	m.board.SetSessions(sessions)
	m.statusBar.SetSessions(sessions)
}

func (m Model) viewing(id string) bool {
	return m.view != nil && m.view.ID() == id
}

// target is the session key actions apply to: the open one, else the
// selected row.
func (m Model) target() string {
	if m.view != nil {
		return m.view.ID()
	}
	return m.board.Selected()
}

func (m Model) sessionName(id string) string {
	if s, ok := m.eng.Table().Get(id); ok {
		return s.DisplayName()
	}
	return id
}

func (m Model) lifeFraction(snap age.Snapshot) float64 {
	if snap.State.Age < 0 && snap.Status != session.Stopped {
		return 1
	}
	if m.ageMax <= 0 {
		return 0
	}
	return float64(snap.Remaining) / float64(m.ageMax)
}

// paneSize is the area below the status bar and session header.
func (m Model) paneSize() (int, int) {
	return max(m.width, 20), max(m.height-10, 5)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayDebug:
		return m.debug.View(m.width, m.height)
	case OverlayDetail:
		if s, ok := m.eng.Table().Get(m.target()); ok {
			var snap age.Snapshot
			if m.viewing(s.ID) {
				snap = m.view.Age()
			} else {
				snap = age.Derive(age.State{Age: s.Age, Status: s.Status, KillReason: s.KillReason, ReplacedBy: s.BeingReplacedBy})
			}
			return m.detail.View(s, snap)
		}
	}

	sections := []string{m.statusBar.View()}
	if m.view != nil {
		sections = append(sections, m.renderSession())
	} else {
		sections = append(sections, m.board.View())
	}
	if m.overlay == OverlayCreate {
		sections = append(sections, m.renderCreate())
	}
	if m.notices.Len() > 0 {
		sections = append(sections, m.notices.View())
	}
	if m.flash != "" {
		sections = append(sections, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("  "+m.flash))
	}
	sections = append(sections, theme.StyleDimmed.Render(m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderSession() string {
	id := m.view.ID()
	snap := m.view.Age()
	label := age.FormatRemaining(snap.Remaining)
	switch {
	case snap.State.Age < 0 && snap.Status != session.Stopped:
		label = "never expires"
	case snap.Display != age.DisplayRunning:
		label = snap.Display.String()
	}

	name := theme.StyleHeader.Render(" " + m.sessionName(id) + " ")
	var statusStr string
	if s, ok := m.eng.Table().Get(id); ok {
		statusStr = lipgloss.NewStyle().Foreground(theme.StatusColor(s.Status.String())).
			Render(theme.StatusGlyph(s.Status.String()) + " " + s.Status.String())
	}
	head := lipgloss.JoinHorizontal(lipgloss.Top, name, " ", statusStr, "  ", m.gauge.View(label))

	w, h := m.paneSize()
	var pane string
	if m.pane == PaneTerminal {
		var src termview.Lines
		if m.surface != nil {
			src = m.surface
		}
		pane = termview.View(src, " "+id, w, h)
	} else {
		pane = m.logs.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, head, pane)
}

func (m Model) renderCreate() string {
	title := "New session"
	if m.view != nil {
		title += " (replaces " + m.sessionName(m.view.ID()) + ")"
	}
	return lipgloss.NewStyle().
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorAccent).
		Render(theme.StyleHeader.Render(title) + "\n" + m.input.View())
}

func (m Model) help() string {
	if m.view != nil {
		return "  j/k:scroll  t:logs/terminal  e:problems  r:replacement  a:ack  i:info  n:redeploy  esc:back  d:events  q:quit"
	}
	return "  j/k:navigate  enter:open  n:new  a:ack  x/o:notice  i:info  g:resync  d:events  q:quit"
}
