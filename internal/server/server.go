// Package server is a reference preview server. It implements the REST
// and stream API the client engine consumes, backed by an in-memory store
// and a lifecycle simulator, for demos and integration tests.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agent-racer/preview/internal/client"
	"github.com/agent-racer/preview/internal/session"
	"github.com/agent-racer/preview/internal/terminal"
)

type Server struct {
	store     *Store
	hub       *Hub
	authToken string
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(store *Store, hub *Hub, authToken string, logger zerolog.Logger) *Server {
	s := &Server{
		store:     store,
		hub:       hub,
		authToken: authToken,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Get("/sessions", s.handleList)
		r.Post("/sessions", s.handleCreate)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/logs", s.handleLogs)
			r.Post("/track", s.handleTrack)
			r.Post("/untrack", s.handleUntrack)
			r.Get("/stream", s.handleStream)
		})

		r.Get("/failed-sessions", s.handleFailedList)
		r.Get("/failed-sessions/{id}", s.handleFailed)
		r.Post("/failed-sessions/{id}/ack", s.handleAck)
	})
	return r
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.All()
	for _, sess := range sessions {
		sess.Logs = nil
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req client.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	created, err := s.store.Create(req)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info().Str("session", created.ID).Str("ref", created.Ref).Msg("session created")
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Status(sessionID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.LogsSince(sessionID(r), r.URL.Query().Get("since"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Track(sessionID(r)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Untrack(sessionID(r)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailedList(w http.ResponseWriter, r *http.Request) {
	records := s.store.Failed()
	if records == nil {
		records = []session.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.FailedRecord(sessionID(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := s.store.Acknowledge(id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Debug().Str("session", id).Msg("failure acknowledged")
	w.WriteHeader(http.StatusNoContent)
}

// handleStream upgrades to a WebSocket carrying the session's terminal
// output. Inbound frames are read only for resize control frames; any
// other input is discarded.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, ok := s.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	log := s.logger.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("stream viewer connected")

	v := s.hub.Add(id, conn)
	go func() {
		defer func() {
			s.hub.Remove(id, v)
			log.Debug().Msg("stream viewer disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			size, ok, err := terminal.DecodeControl(data)
			switch {
			case !ok:
				// Attachments are read-only.
			case err != nil:
				log.Debug().Err(err).Msg("bad control frame")
			default:
				log.Debug().Int("cols", size.Cols).Int("rows", size.Rows).Msg("viewer resized")
				_ = s.store.Update(id, func(sess *session.Session) {
					if sess.Integrations == nil {
						sess.Integrations = map[string]string{}
					}
					sess.Integrations["terminal"] = size.String()
				})
			}
		}
	}()
}

func sessionID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnknownSession), errors.Is(err, errNotFailed):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrReplacementCycle):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=. An empty
// token disables auth.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the stream endpoint upgrade through the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// checkOrigin allows non-browser clients and same-host or loopback
// browser origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
