// Package terminal attaches a rendering surface to a session's live
// output stream.
//
// Output flows one way: the server writes raw terminal bytes, the client
// feeds them to a Surface and never forwards keystrokes. The only frames
// the client sends are resize control frames, a ControlMarker byte
// followed by JSON {"cols":C,"rows":R}, which the server tells apart from
// terminal output by the marker.
package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ControlMarker prefixes client-to-server control frames.
const ControlMarker byte = 0x01

// Size is a terminal size in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s Size) valid() bool { return s.Cols > 0 && s.Rows > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Cols, s.Rows) }

var errInvalidSize = errors.New("terminal: size must be positive")

// EncodeResize builds the control frame announcing a new size.
func EncodeResize(cols, rows int) ([]byte, error) {
	size := Size{Cols: cols, Rows: rows}
	if !size.valid() {
		return nil, fmt.Errorf("%w: %s", errInvalidSize, size)
	}
	payload, err := json.Marshal(size)
	if err != nil {
		return nil, err
	}
	return append([]byte{ControlMarker}, payload...), nil
}

// DecodeControl parses a control frame. ok is false for frames that do
// not start with ControlMarker, which are terminal output.
func DecodeControl(frame []byte) (size Size, ok bool, err error) {
	if len(frame) == 0 || frame[0] != ControlMarker {
		return Size{}, false, nil
	}
	if err := json.Unmarshal(frame[1:], &size); err != nil {
		return Size{}, true, fmt.Errorf("terminal: bad control frame: %w", err)
	}
	if !size.valid() {
		return Size{}, true, fmt.Errorf("%w: %s", errInvalidSize, size)
	}
	return size, true, nil
}
