// Package board renders the session list: one row per session with its
// status, ref, remaining lifetime and replacement link.
package board

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agent-racer/preview/internal/age"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/theme"
)

const (
	colName   = 22
	colRef    = 20
	colStatus = 14
	colAge    = 12
)

// Model holds the board state.
type Model struct {
	Width int

	sessions []*session.Session
	selected int
}

func New() Model {
	return Model{}
}

// SetSessions replaces the list. Live sessions sort first, then newest
// first. The selection follows the previously selected ID when it is
// still present.
func (m *Model) SetSessions(sessions []*session.Session) {
	prev := m.Selected()
	m.sessions = append(m.sessions[:0:0], sessions...)
	sort.SliceStable(m.sessions, func(i, j int) bool {
		ri, rj := rank(m.sessions[i].Status), rank(m.sessions[j].Status)
		if ri != rj {
			return ri < rj
		}
		return m.sessions[i].CreatedAt.After(m.sessions[j].CreatedAt)
	})
	m.selected = 0
	for i, s := range m.sessions {
		if s.ID == prev {
			m.selected = i
			break
		}
	}
}

func rank(s session.Status) int {
	switch {
	case s == session.Started || s == session.Degraded:
		return 0
	case s == session.Starting || s == session.Stopping:
		return 1
	case s.Failed():
		return 2
	default:
		return 3
	}
}

// Len returns the number of rows.
func (m Model) Len() int { return len(m.sessions) }

// Selected returns the ID of the selected session, or "".
func (m Model) Selected() string {
	if m.selected < 0 || m.selected >= len(m.sessions) {
		return ""
	}
	return m.sessions[m.selected].ID
}

// Select moves the selection to id when present.
func (m *Model) Select(id string) {
	for i, s := range m.sessions {
		if s.ID == id {
			m.selected = i
			return
		}
	}
}

func (m *Model) Down() {
	if len(m.sessions) > 0 {
		m.selected = (m.selected + 1) % len(m.sessions)
	}
}

func (m *Model) Up() {
	if len(m.sessions) > 0 {
		m.selected = (m.selected - 1 + len(m.sessions)) % len(m.sessions)
	}
}

// View renders the table.
func (m Model) View() string {
	header := theme.StyleHeader.Render("  Sessions")
	if len(m.sessions) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			theme.StyleDimmed.Render("  No sessions. Press n to create one."),
		)
	}

	cols := theme.StyleDimmed.Render(fmt.Sprintf("    %-*s %-*s %-*s %-*s %s",
		colName, "NAME", colRef, "REF", colStatus, "STATUS", colAge, "EXPIRES", "NOTES"))

	lines := []string{header, cols}
	for i, s := range m.sessions {
		lines = append(lines, m.renderRow(s, i == m.selected))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderRow(s *session.Session, selected bool) string {
	prefix := "  "
	if selected {
		prefix = "> "
	}
	status := s.Status.String()
	color := theme.StatusColor(status)

	name := pad(s.DisplayName(), colName)
	if selected {
		name = theme.StyleSelected.Render(name)
	}
	glyph := lipgloss.NewStyle().Foreground(color).Render(theme.StatusGlyph(status))
	statusStr := lipgloss.NewStyle().Foreground(color).Render(pad(status, colStatus))

	row := prefix + glyph + " " + name + " " + pad(s.Ref, colRef) + " " + statusStr + " " +
		pad(ageCell(s), colAge) + " " + notes(s)
	if m.Width > 0 && ansi.StringWidth(row) > m.Width {
		row = ansi.Truncate(row, m.Width, "…")
	}
	return row
}

func ageCell(s *session.Session) string {
	switch {
	case s.Status == session.Stopped || s.Status.Failed():
		return "-"
	case s.Age == session.NoExpiration:
		return "never"
	case s.Age <= 0:
		return "…"
	default:
		return age.FormatRemaining(s.Age)
	}
}

func notes(s *session.Session) string {
	var parts []string
	if s.BeingReplacedBy != "" {
		parts = append(parts, "replaced → "+short(s.BeingReplacedBy))
	}
	if len(s.Replaces) > 0 {
		parts = append(parts, "replaces "+short(s.Replaces[0]))
	}
	if s.KillReason != session.KillNone && s.Status.Terminal() {
		parts = append(parts, s.KillReason.String())
	}
	return theme.StyleDimmed.Render(strings.Join(parts, ", "))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pad(s string, width int) string {
	if ansi.StringWidth(s) > width {
		return ansi.Truncate(s, width, "…")
	}
	return s + strings.Repeat(" ", width-ansi.StringWidth(s))
}
