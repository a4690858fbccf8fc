// Package logview is a scrollable pane over a session's merged log.
package logview

import (
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/preview/internal/logs"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/theme"
)

var problemLevels = []session.Level{
	session.LevelWarn,
	session.LevelError,
	session.LevelCritical,
	session.LevelStderr,
}

// Model keeps the pane pinned to the newest line until the user scrolls
// up, and pins it again once they scroll back to the bottom.
type Model struct {
	vp       viewport.Model
	entries  []session.LogEntry
	follow   bool
	Problems bool
}

func New(width, height int) Model {
	return Model{vp: viewport.New(width, height), follow: true}
}

func (m *Model) SetSize(width, height int) {
	m.vp.Width = width
	m.vp.Height = height
	m.refresh()
}

// SetEntries replaces the content.
func (m *Model) SetEntries(entries []session.LogEntry) {
	m.entries = entries
	m.refresh()
}

// ToggleProblems switches between all lines and warnings and errors only.
func (m *Model) ToggleProblems() {
	m.Problems = !m.Problems
	m.refresh()
}

func (m *Model) refresh() {
	shown := m.entries
	if m.Problems {
		shown = logs.Filter(shown, problemLevels...)
	}
	m.vp.SetContent(logs.Render(shown, m.vp.Width))
	if m.follow {
		m.vp.GotoBottom()
	}
}

// Following reports whether new lines scroll into view.
func (m Model) Following() bool { return m.follow }

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	m.follow = m.vp.AtBottom()
	return m, cmd
}

func (m Model) View() string {
	title := theme.StyleHeader.Render(" LOGS ")
	info := fmt.Sprintf("%d lines", len(m.entries))
	if m.Problems {
		info += "  problems only"
	}
	if !m.follow {
		info += "  (scrolled)"
	}
	head := lipgloss.JoinHorizontal(lipgloss.Top, title, theme.StyleDimmed.Render(info))
	if len(m.entries) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, head, theme.StyleDimmed.Render("  waiting for output…"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, head, m.vp.View())
}
