// Package testserver provides an analytics collector for tour sessions with
// controllable failures, used by tests and the collector command.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one analytics event as received by the collector.
type Event struct {
	Type      string         `json:"type"`
	StepID    string         `json:"stepId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Details   map[string]any `json:"details,omitempty"`
}

// Metadata is the batch metadata sent alongside the events.
type Metadata struct {
	Referrer          string `json:"referrer,omitempty"`
	Duration          int64  `json:"duration"`
	Completed         bool   `json:"completed"`
	InteractionPoints int    `json:"interactionPoints"`
}

type batch struct {
	SessionID string   `json:"sessionId"`
	Events    []Event  `json:"events"`
	Metadata  Metadata `json:"metadata"`
}

// Session is everything the collector accepted for one session id.
type Session struct {
	SessionID string   `json:"sessionId"`
	Events    []Event  `json:"events"`
	Metadata  Metadata `json:"metadata"`
	Batches   int      `json:"batches"`
}

// Server is an in-memory analytics collector.
type Server struct {
	mux *http.ServeMux

	mu          sync.Mutex
	sessions    map[string]*Session
	failNext    int
	acceptLimit int
	delay       time.Duration

	requests atomic.Int64
	failures atomic.Int64
}

// NewServer creates a collector with all endpoints registered.
func NewServer() *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		sessions:    make(map[string]*Session),
		acceptLimit: -1,
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerHandlers() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /events", s.handleEvents)
	s.mux.HandleFunc("GET /sessions", s.handleSessions)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	s.mux.HandleFunc("POST /admin/fail", s.handleFail)
}

// FailNext makes the next n event batches fail with 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = max(n, 0)
	s.mu.Unlock()
}

// AcceptAtMost limits how many events of each batch are kept and reported as
// accepted. A negative n accepts whole batches.
func (s *Server) AcceptAtMost(n int) {
	s.mu.Lock()
	s.acceptLimit = n
	s.mu.Unlock()
}

// SetDelay delays every event batch response by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Session returns a copy of the accepted data for id.
func (s *Server) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := *sess
	out.Events = append([]Event(nil), sess.Events...)
	return out, true
}

// Requests returns the number of event batches received, failed ones
// included.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

// Failures returns the number of event batches rejected by FailNext.
func (s *Server) Failures() int {
	return int(s.failures.Load())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleEvents accepts a batch and answers with the number of events kept.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	s.mu.Lock()
	delay := s.delay
	fail := s.failNext > 0
	if fail {
		s.failNext--
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		s.failures.Add(1)
		http.Error(w, "simulated failure", http.StatusServiceUnavailable)
		return
	}

	var b batch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "invalid batch: "+err.Error(), http.StatusBadRequest)
		return
	}
	if b.SessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	accepted := len(b.Events)
	if s.acceptLimit >= 0 {
		accepted = min(accepted, s.acceptLimit)
	}
	sess, ok := s.sessions[b.SessionID]
	if !ok {
		sess = &Session{SessionID: b.SessionID}
		s.sessions[b.SessionID] = sess
	}
	sess.Events = append(sess.Events, b.Events[:accepted]...)
	sess.Metadata = b.Metadata
	sess.Batches++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"accepted":%d}`, accepted)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"sessions": ids})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Session(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(sess)
}

// handleFail arms FailNext over HTTP.
// Example: POST /admin/fail?n=3 fails the next three batches
func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n < 0 {
		http.Error(w, "invalid n", http.StatusBadRequest)
		return
	}
	s.FailNext(n)
	w.WriteHeader(http.StatusNoContent)
}
