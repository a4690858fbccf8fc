package logs

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/agent-racer/preview/internal/session"
)

// Plain returns the entry's message without ANSI escape sequences.
func Plain(e session.LogEntry) string {
	return ansi.Strip(e.Message)
}

// levelTag is the fixed-width column shown before each line.
func levelTag(l session.Level) string {
	switch l {
	case session.LevelCritical:
		return "CRIT"
	case session.LevelStdout:
		return "OUT "
	case session.LevelStderr:
		return "ERR!"
	case session.LevelStdin:
		return "IN  "
	case "":
		return "    "
	}
	tag := strings.ToUpper(string(l))
	if len(tag) > 4 {
		tag = tag[:4]
	}
	return tag + strings.Repeat(" ", 4-len(tag))
}

// Render formats entries one per line, keeping embedded ANSI styling and
// truncating each line to width visible cells. width <= 0 disables
// truncation. Multi-line messages are split so every output line carries
// the timestamp column.
func Render(entries []session.LogEntry, width int) string {
	var b strings.Builder
	for _, e := range entries {
		prefix := e.Timestamp.Format("15:04:05") + " " + levelTag(e.Level) + " "
		for _, line := range strings.Split(strings.TrimRight(e.Message, "\n"), "\n") {
			out := prefix + strings.TrimRight(line, "\r")
			if width > 0 && ansi.StringWidth(out) > width {
				out = ansi.Truncate(out, width, "…")
			}
			b.WriteString(out)
			b.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Filter returns the entries whose level is in levels. An empty levels
// set returns entries unchanged.
func Filter(entries []session.LogEntry, levels ...session.Level) []session.LogEntry {
	if len(levels) == 0 {
		return entries
	}
	var out []session.LogEntry
	for _, e := range entries {
		for _, l := range levels {
			if e.Level == l {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
