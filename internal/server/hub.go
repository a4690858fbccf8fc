package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	backlogLimit = 64 << 10
	writeWait    = 10 * time.Second
)

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

func newViewer(conn *websocket.Conn) *viewer {
	v := &viewer{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go v.writePump()
	return v
}

func (v *viewer) writePump() {
	defer v.conn.Close()
	for msg := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return
		}
	}
	v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
}

func (v *viewer) close() {
	close(v.send)
}

// Hub fans terminal output out to every viewer of every session and
// keeps a bounded backlog per session for late joiners.
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]map[*viewer]bool
	backlog map[string][]byte
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		viewers: make(map[string]map[*viewer]bool),
		backlog: make(map[string][]byte),
		logger:  logger,
	}
}

// Add registers conn as a viewer of id and queues the backlog to it.
func (h *Hub) Add(id string, conn *websocket.Conn) *viewer {
	v := newViewer(conn)

	h.mu.Lock()
	if h.viewers[id] == nil {
		h.viewers[id] = make(map[*viewer]bool)
	}
	h.viewers[id][v] = true
	if backlog := h.backlog[id]; len(backlog) > 0 {
		v.send <- append([]byte(nil), backlog...)
	}
	h.mu.Unlock()
	return v
}

func (h *Hub) Remove(id string, v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.viewers[id]; ok && set[v] {
		delete(set, v)
		v.close()
		if len(set) == 0 {
			delete(h.viewers, id)
		}
	}
}

// Write appends output to id's backlog and sends it to its viewers.
// Viewers that cannot keep up are disconnected. Sends happen under the
// lock so a viewer is never closed while being sent to.
func (h *Hub) Write(id string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := append(h.backlog[id], data...)
	if len(b) > backlogLimit {
		b = append([]byte(nil), b[len(b)-backlogLimit:]...)
	}
	h.backlog[id] = b

	msg := append([]byte(nil), data...)
	set := h.viewers[id]
	for v := range set {
		select {
		case v.send <- msg:
		default:
			h.logger.Warn().Str("session", id).Msg("stream viewer too slow, disconnecting")
			delete(set, v)
			v.close()
		}
	}
}

// End disconnects every viewer of id and drops its backlog.
func (h *Hub) End(id string) {
	h.mu.Lock()
	set := h.viewers[id]
	delete(h.viewers, id)
	delete(h.backlog, id)
	h.mu.Unlock()
	for v := range set {
		v.close()
	}
}

// ViewerCount returns the number of viewers attached to id.
func (h *Hub) ViewerCount(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers[id])
}
