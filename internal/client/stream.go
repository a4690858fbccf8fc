package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// StreamClient opens the per-session terminal stream.
type StreamClient struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer

	PingInterval time.Duration
}

// NewStreamClient creates a stream client for the server at baseURL. Both
// http(s):// and ws(s):// base URLs are accepted.
func NewStreamClient(baseURL, token string) *StreamClient {
	return &StreamClient{
		baseURL:      baseURL,
		token:        token,
		dialer:       websocket.DefaultDialer,
		PingInterval: pingInterval,
	}
}

// Dial opens the stream for session id.
func (c *StreamClient) Dial(ctx context.Context, id string) (*Stream, error) {
	target, err := StreamURL(c.baseURL, id)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			return nil, &APIError{Method: http.MethodGet, Path: target, StatusCode: resp.StatusCode, Body: resp.Status}
		}
		return nil, fmt.Errorf("dial stream %s: %w", id, err)
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{conn: conn, cancelPing: cancel}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	if c.PingInterval > 0 {
		go s.pingLoop(pingCtx, c.PingInterval)
	}
	return s, nil
}

// StreamURL converts a server base URL into the stream endpoint for id:
// http://host:port → ws://host:port/api/sessions/{id}/stream.
func StreamURL(baseURL, id string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch {
	case strings.HasPrefix(u.Scheme, "https"), u.Scheme == "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/sessions/" + url.PathEscape(id) + "/stream"
	u.RawPath = ""
	return u.String(), nil
}

// Stream is one open terminal stream. Recv must be called from a single
// goroutine; Send and Close are safe to call concurrently with it.
type Stream struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex // serialises all conn writes (ping, control frames, close)
	cancelPing context.CancelFunc
	closeOnce  sync.Once
}

// Recv returns the next output frame.
func (s *Stream) Recv() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Send writes one client→server frame.
func (s *Stream) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close frame and releases the connection. Safe to call
// more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancelPing()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detached"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) pingLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
