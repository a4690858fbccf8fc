// Package gauge draws a session's remaining lifetime as a bar that eases
// toward its target with a spring.
package gauge

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/preview/internal/theme"
)

const fps = 30

// FrameMsg advances the animation by one frame.
type FrameMsg struct{}

type Model struct {
	Width int

	spring harmonica.Spring
	pos    float64
	vel    float64
	target float64
}

func New(width int) Model {
	return Model{
		Width:  width,
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.8),
	}
}

// SetFraction sets the target fill in [0,1]. It returns a command that
// starts the animation, or nil when the bar is already there.
func (m *Model) SetFraction(f float64) tea.Cmd {
	f = math.Max(0, math.Min(1, f))
	if f == m.target && m.Settled() {
		return nil
	}
	m.target = f
	return Frame()
}

// Jump sets the fill without animating.
func (m *Model) Jump(f float64) {
	f = math.Max(0, math.Min(1, f))
	m.target, m.pos, m.vel = f, f, 0
}

// Step advances one frame and returns the command for the next one, or
// nil once settled.
func (m *Model) Step() tea.Cmd {
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if m.Settled() {
		m.pos, m.vel = m.target, 0
		return nil
	}
	return Frame()
}

// Settled reports whether the bar has reached its target.
func (m Model) Settled() bool {
	return math.Abs(m.pos-m.target) < 0.002 && math.Abs(m.vel) < 0.002
}

// Fraction returns the currently drawn fill.
func (m Model) Fraction() float64 { return m.pos }

// Frame schedules the next animation frame.
func Frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// View renders the bar followed by label.
func (m Model) View(label string) string {
	width := m.Width
	if width < 10 {
		width = 10
	}
	pos := math.Max(0, math.Min(1, m.pos))
	filled := int(math.Round(pos * float64(width)))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return lipgloss.NewStyle().Foreground(theme.LifeColor(m.target)).Render(bar) + " " + label
}
