package server

import (
	"sync"
)

// Message is one entry of a session's history.
type Message struct {
	Role    string
	Content string
}

// Session holds the history of one conversation. It outlives connections.
type Session struct {
	ID string

	mu      sync.Mutex
	history []Message
}

// Append adds a message to the history.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: role, Content: content})
}

// History returns a copy of the history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Hub tracks sessions and their live connections. Sessions are kept in
// memory until the process exits.
type Hub struct {
	sessions map[string]*Session
	active   map[string]int
	mu       sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		active:   make(map[string]int),
	}
}

// Register marks a connection for id, creating the session if needed.
// created reports whether the session is new.
func (h *Hub) Register(id string) (session *Session, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[id]
	if !ok {
		session = &Session{ID: id}
		h.sessions[id] = session
	}
	h.active[id]++
	return session, !ok
}

// Unregister removes a connection for id. The session is kept.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active[id] <= 1 {
		delete(h.active, id)
		return
	}
	h.active[id]--
}

// Session returns the session for id, if known.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// SessionCount returns the number of known sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.active {
		n += c
	}
	return n
}
