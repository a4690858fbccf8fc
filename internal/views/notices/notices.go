// Package notices renders the notification stack.
package notices

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agent-racer/preview/internal/notify"
	"github.com/agent-racer/preview/internal/theme"
)

// Model shows the newest notifications, newest at the bottom. The
// selection is tracked by ID and always names a displayed notification.
type Model struct {
	Width    int
	Max      int
	list     []notify.Notification
	selected string
}

func New() Model {
	return Model{Max: 4}
}

// SetList replaces the list. A notification that was not in the previous
// list takes the selection; otherwise it stays put unless its notification
// is gone or folded away, in which case the newest is selected.
func (m *Model) SetList(list []notify.Notification) {
	prev := m.list
	m.list = list
	if len(list) == 0 {
		m.selected = ""
		return
	}
	newest := list[len(list)-1].ID
	if indexOf(prev, newest) < 0 {
		m.selected = newest
		return
	}
	if i := indexOf(list, m.selected); i < m.start() {
		m.selected = newest
	}
}

func (m Model) Len() int { return len(m.list) }

// Selected returns the selected notification's ID, or "".
func (m Model) Selected() string { return m.selected }

// Cycle moves the selection to the next older displayed notification,
// wrapping to the newest.
func (m *Model) Cycle() {
	if len(m.list) == 0 {
		return
	}
	i := indexOf(m.list, m.selected) - 1
	if i < m.start() {
		i = len(m.list) - 1
	}
	m.selected = m.list[i].ID
}

// start is the index of the oldest displayed notification.
func (m Model) start() int {
	if m.Max > 0 && len(m.list) > m.Max {
		return len(m.list) - m.Max
	}
	return 0
}

func indexOf(list []notify.Notification, id string) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) View() string {
	if len(m.list) == 0 {
		return ""
	}
	width := m.Width
	if width < 30 {
		width = 30
	}
	start := m.start()

	var lines []string
	if start > 0 {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("  +%d older", start)))
	}
	for i := start; i < len(m.list); i++ {
		n := m.list[i]
		marker := "  "
		if n.ID == m.selected {
			marker = "▸ "
		}
		color := theme.SeverityColor(string(n.Severity))
		badge := lipgloss.NewStyle().Foreground(color).Bold(true).Render(badgeFor(n.Severity))
		line := marker + badge + " " + n.Text
		if ansi.StringWidth(line) > width-4 {
			line = ansi.Truncate(line, width-4, "…")
		}
		lines = append(lines, line)
	}
	lines = append(lines, theme.StyleDimmed.Render("  o:open  x:dismiss  tab:next"))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(lines, "\n"))
}

func badgeFor(s notify.Severity) string {
	switch s {
	case notify.Error:
		return "✗"
	case notify.Warning:
		return "!"
	case notify.Success:
		return "✓"
	default:
		return "i"
	}
}
