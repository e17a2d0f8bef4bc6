// Package relay fans detector messages out to websocket clients. The first
// text frame of every connection declares its role, "client" or "detector".
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Role is what a connection declared itself as
type Role string

const (
	RoleClient   Role = "client"
	RoleDetector Role = "detector"
)

const writeWait = 5 * time.Second

// Session is one registered connection. Writes are serialized because a
// websocket connection supports a single concurrent writer.
type Session struct {
	ID   string
	Role Role

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newSession(conn *websocket.Conn, role Role) *Session {
	return &Session{ID: uuid.NewString(), Role: role, conn: conn}
}

// Send writes one text frame
func (s *Session) Send(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to write to %s %s: %w", s.Role, s.ID, err)
	}
	return nil
}

// Registry owns the sets of connected clients and detectors
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]*Session
	detectors map[string]*Session
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[string]*Session),
		detectors: make(map[string]*Session),
	}
}

// Add registers s under its role
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch s.Role {
	case RoleClient:
		r.clients[s.ID] = s
	case RoleDetector:
		r.detectors[s.ID] = s
	}
}

// Remove reports whether s was registered
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, c := r.clients[s.ID]
	_, d := r.detectors[s.ID]
	delete(r.clients, s.ID)
	delete(r.detectors, s.ID)
	return c || d
}

// Clients snapshots the client set
func (r *Registry) Clients() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.clients))
	for _, s := range r.clients {
		out = append(out, s)
	}
	return out
}

// Counts returns the number of clients and detectors
func (r *Registry) Counts() (clients, detectors int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.detectors)
}
