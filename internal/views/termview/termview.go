// Package termview draws the emulated remote terminal inside a frame.
package termview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agent-racer/preview/internal/theme"
)

// Lines is what the pane draws; *terminal.VTSurface satisfies it.
type Lines interface {
	Lines() []string
}

// Inner returns the surface size that fits a pane of width x height.
func Inner(width, height int) (cols, rows int) {
	return max(width-2, 10), max(height-3, 3)
}

// View renders the last rows of src in a width x height frame.
func View(src Lines, title string, width, height int) string {
	cols, rows := Inner(width, height)
	var lines []string
	if src != nil {
		lines = src.Lines()
	}
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	for i, l := range lines {
		if ansi.StringWidth(l) > cols {
			lines[i] = ansi.Truncate(l, cols, "")
		}
	}
	body := strings.Join(lines, "\n")
	if body == "" {
		body = theme.StyleDimmed.Render("no terminal output")
	}
	head := theme.StyleHeader.Render(" TERMINAL ") + theme.StyleDimmed.Render(title)
	return lipgloss.JoinVertical(lipgloss.Left, head,
		theme.StyleBorder.Width(cols).Height(rows).Render(body))
}
