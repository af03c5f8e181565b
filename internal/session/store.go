package session

import (
	"sync"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/google/uuid"
)

// Store keeps independent sessions by id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

// NewStore returns an empty store holding at most max sessions (0 = unlimited).
func NewStore(max int) *Store {
	return &Store{sessions: make(map[string]*Session), max: max}
}

// Create registers a new session over t.
func (st *Store) Create(t *analysis.Table) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.max > 0 && len(st.sessions) >= st.max {
		return nil, analysis.Preconditionf("create session", "session limit of %d reached", st.max)
	}
	s := New(uuid.NewString(), t)
	st.sessions[s.ID] = s
	return s, nil
}

// Get returns the session with id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete drops a session; it reports whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
