// Package theme provides the Lip Gloss color palette and reusable styles
// for the preview TUI. It is a leaf package with no internal imports to
// avoid import cycles; callers pass enum names as strings.
package theme

import "github.com/charmbracelet/lipgloss"

// Status colors.
var (
	ColorStarting = lipgloss.Color("#7c3aed")
	ColorStarted  = lipgloss.Color("#16a34a")
	ColorDegraded = lipgloss.Color("#d97706")
	ColorStopping = lipgloss.Color("#854d0e")
	ColorStopped  = lipgloss.Color("#4b5563")
	ColorFailed   = lipgloss.Color("#dc2626")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Log level colors.
var (
	ColorTrace  = lipgloss.Color("#374151")
	ColorDebug  = lipgloss.Color("#6b7280")
	ColorInfo   = lipgloss.Color("#2563eb")
	ColorWarn   = lipgloss.Color("#d97706")
	ColorError  = lipgloss.Color("#dc2626")
	ColorStdout = lipgloss.Color("#d1d5db")
	ColorStderr = lipgloss.Color("#f87171")
)

// Lifetime gauge thresholds.
var (
	ColorLifeHigh = lipgloss.Color("#22c55e") // >50%
	ColorLifeMid  = lipgloss.Color("#d97706") // 20-50%
	ColorLifeLow  = lipgloss.Color("#dc2626") // <20%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorAccent  = lipgloss.Color("#06b6d4")
)

// StatusColor returns the color for a session status name.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "starting":
		return ColorStarting
	case "started":
		return ColorStarted
	case "degraded":
		return ColorDegraded
	case "stopping":
		return ColorStopping
	case "stopped":
		return ColorStopped
	case "start_failed", "stop_failed":
		return ColorFailed
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a Unicode glyph for a session status name.
func StatusGlyph(status string) string {
	switch status {
	case "starting":
		return "◎"
	case "started":
		return "●"
	case "degraded":
		return "◐"
	case "stopping":
		return "◌"
	case "stopped":
		return "○"
	case "start_failed", "stop_failed":
		return "✗"
	default:
		return "·"
	}
}

// LevelColor returns the color for a log level name.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "trace":
		return ColorTrace
	case "debug":
		return ColorDebug
	case "info":
		return ColorInfo
	case "warn":
		return ColorWarn
	case "error", "critical":
		return ColorError
	case "stderr":
		return ColorStderr
	case "stdout", "stdin":
		return ColorStdout
	default:
		return ColorDefault
	}
}

// SeverityColor returns the color for a notification severity.
func SeverityColor(severity string) lipgloss.Color {
	switch severity {
	case "success":
		return ColorHealthy
	case "warning":
		return ColorWarning
	case "error":
		return ColorDanger
	default:
		return ColorAccent
	}
}

// LifeColor returns the gauge color for the remaining fraction of a
// session's lifetime.
func LifeColor(frac float64) lipgloss.Color {
	switch {
	case frac < 0.2:
		return ColorLifeLow
	case frac < 0.5:
		return ColorLifeMid
	default:
		return ColorLifeHigh
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
