package terminal

import (
	"io"
	"strings"
	"sync"

	"github.com/vito/midterm"
)

// Surface renders stream output.
type Surface interface {
	io.Writer
	Resize(cols, rows int)
}

// VTSurface emulates a terminal in memory so a TUI pane can draw the
// remote screen.
type VTSurface struct {
	mu   sync.Mutex
	vt   *midterm.Terminal
	size Size
}

func NewVTSurface(cols, rows int) *VTSurface {
	return &VTSurface{
		vt:   midterm.NewTerminal(rows, cols),
		size: Size{Cols: cols, Rows: rows},
	}
}

func (s *VTSurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vt.Write(p)
}

func (s *VTSurface) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols == s.size.Cols && rows == s.size.Rows {
		return
	}
	s.vt.Resize(rows, cols)
	s.size = Size{Cols: cols, Rows: rows}
}

// Size returns the emulated screen size.
func (s *VTSurface) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Lines returns the visible screen, one string per row, without trailing
// blanks. Trailing empty rows are dropped.
func (s *VTSurface) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]string, 0, len(s.vt.Content))
	for _, row := range s.vt.Content {
		lines = append(lines, strings.TrimRight(string(row), " \x00"))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// String joins Lines with newlines.
func (s *VTSurface) String() string {
	return strings.Join(s.Lines(), "\n")
}

// WriterSurface passes output straight to a real terminal. The local
// terminal resizes itself, so Resize only records the size.
type WriterSurface struct {
	W io.Writer

	mu   sync.Mutex
	size Size
}

func (s *WriterSurface) Write(p []byte) (int, error) {
	return s.W.Write(p)
}

func (s *WriterSurface) Resize(cols, rows int) {
	s.mu.Lock()
	s.size = Size{Cols: cols, Rows: rows}
	s.mu.Unlock()
}

func (s *WriterSurface) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
