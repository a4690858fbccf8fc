// Package debug is the engine event log overlay.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agent-racer/preview/internal/theme"
)

const maxEntries = 200

// Event kinds.
const (
	KindPoll   = "poll"
	KindAge    = "age"
	KindFail   = "fail"
	KindStream = "strm"
	KindNotice = "note"
	KindNav    = "nav"
	KindErr    = "err"
)

type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model is a bounded ring of entries viewed from the bottom. Offset counts
// entries hidden below the view.
type Model struct {
	Entries []Entry
	Offset  int
	Now     func() time.Time
}

func New(now func() time.Time) Model {
	if now == nil {
		now = time.Now
	}
	return Model{Now: now}
}

// Addf records an entry and jumps back to the newest one.
func (m *Model) Addf(kind, format string, args ...any) {
	m.Entries = append(m.Entries, Entry{
		Time:    m.Now(),
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Count returns how many entries of kind are held.
func (m Model) Count(kind string) int {
	n := 0
	for _, e := range m.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" ENGINE EVENTS ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d events", len(m.Entries)))
	panel := lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Nothing yet.")
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(e.Kind)
		msg := ansi.Truncate(e.Message, max(innerW-22, 10), "...")
		lines = append(lines, ts+" "+kind+" "+msg)
	}

	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case KindPoll, KindAge:
		return theme.ColorInfo
	case KindStream:
		return theme.ColorAccent
	case KindFail, KindErr:
		return theme.ColorDanger
	case KindNav:
		return theme.ColorStarting
	case KindNotice:
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}
