package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the authoritative in-memory store of session state. Reads
// are concurrent; writes go through the Coordinator, which serializes
// them per session. Durable history is the repository's responsibility,
// written by the persistence recorder from lifecycle events.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Get returns a copy of the session or ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// List returns copies of all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.clone())
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// put registers a new session. Coordinator use only.
func (r *Registry) put(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess.clone()
}

// update overwrites an existing session record. Coordinator use only.
func (r *Registry) update(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; ok {
		r.sessions[sess.ID] = sess.clone()
	}
}

// evict removes a session from the registry. Called by the Coordinator
// once an ended session's retention window has elapsed.
func (r *Registry) evict(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
