// Package detail renders the session info panel as markdown.
package detail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/preview/internal/age"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/theme"
)

var stylePanel = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.ColorBorder).
	Padding(0, 1)

// Model caches the rendered markdown; glamour is too slow to run on
// every frame.
type Model struct {
	Width int

	renderer *glamour.TermRenderer
	rwidth   int
	source   string
	rendered string
}

func New() Model {
	return Model{}
}

// Markdown returns the panel source for s.
func Markdown(s *session.Session, snap age.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", s.DisplayName())
	b.WriteString("| | |\n|---|---|\n")
	row := func(k, v string) { fmt.Fprintf(&b, "| %s | %s |\n", k, v) }
	row("ID", "`"+s.ID+"`")
	if s.Ref != "" {
		row("Ref", "`"+s.Ref+"`")
	}
	row("Status", s.Status.String())
	if s.KillReason != session.KillNone {
		row("Kill reason", s.KillReason.String())
	}
	row("Expires", expiry(snap))
	if s.BeingReplacedBy != "" {
		row("Replaced by", "`"+s.BeingReplacedBy+"`")
	}
	for _, id := range s.Replaces {
		row("Replaces", "`"+id+"`")
	}

	if len(s.Integrations) > 0 {
		b.WriteString("\n### Integrations\n\n")
		keys := make([]string, 0, len(s.Integrations))
		for k := range s.Integrations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", k, s.Integrations[k])
		}
	}
	return b.String()
}

func expiry(snap age.Snapshot) string {
	switch snap.Display {
	case age.DisplayReplaced:
		return "replaced"
	case age.DisplayExpired:
		return "expired"
	}
	if !snap.Live {
		return "no expiry"
	}
	return "in " + age.FormatRemaining(snap.Remaining)
}

// View renders the panel for s.
func (m *Model) View(s *session.Session, snap age.Snapshot) string {
	if s == nil {
		return ""
	}
	width := m.Width
	if width < 30 {
		width = 30
	}
	src := Markdown(s, snap)
	if src != m.source || width != m.rwidth {
		m.source = src
		m.rendered = m.render(src, width-4)
	}
	return stylePanel.Width(width).Render(m.rendered)
}

func (m *Model) render(src string, wrap int) string {
	if m.renderer == nil || m.rwidth != wrap+4 {
		r, err := glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return src
		}
		m.renderer = r
		m.rwidth = wrap + 4
	}
	out, err := m.renderer.Render(src)
	if err != nil {
		return src
	}
	return strings.Trim(out, "\n")
}
