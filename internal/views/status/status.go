package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Server    string
	Running   int
	Starting  int
	Failed    int
	Stopped   int
	Unacked   int
	Attached  string
	Width     int
}

// New creates a status bar model.
func New(server string) Model {
	return Model{Server: server}
}

// SetSessions recomputes the per-status counts.
func (m *Model) SetSessions(sessions []*session.Session) {
	m.Running, m.Starting, m.Failed, m.Stopped = 0, 0, 0, 0
	for _, s := range sessions {
		switch {
		case s.Status.Failed():
			m.Failed++
		case s.Status == session.Started || s.Status == session.Degraded:
			m.Running++
		case s.Status == session.Starting:
			m.Starting++
		default:
			m.Stopped++
		}
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + m.Server)
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	counts := fmt.Sprintf("%d running  %d starting  %d stopped", m.Running, m.Starting, m.Stopped)
	failed := lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("0 failed")
	if m.Failed > 0 {
		failed = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(fmt.Sprintf("%d failed", m.Failed))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + counts + "  " + failed
	if m.Unacked > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).
			Render(fmt.Sprintf("%d unacknowledged", m.Unacked))
	}
	if m.Attached != "" {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorAccent).Render("▶ "+m.Attached)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
