package network

import (
	"errors"
	"sync"
)

// SessionRegistry tracks the live sessions one listener owns. The listener
// is the only writer: insert on accept, remove when a session reaches
// Closed.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uint64]*Session)}
}

// Register adds a session.
func (r *SessionRegistry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Unregister removes a session by id.
func (r *SessionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of the live sessions.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every registered session. Sessions already closed by the
// peer count as success; real socket errors are joined and returned.
func (r *SessionRegistry) CloseAll() error {
	var errs []error
	for _, s := range r.All() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
