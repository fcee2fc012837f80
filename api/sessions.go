package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/compplan/network"
)

// =============================================================================
// SESSION - One independently owned tree
// =============================================================================

// Session owns a tree and the manual clock driving it. A tree is not safe
// for concurrent use, so every handler touching it holds mu.
type Session struct {
	ID        string
	Label     string
	Preset    string
	CreatedAt time.Time

	mu       sync.Mutex
	tree     *network.Tree
	clock    *network.ManualClock
	lastUsed time.Time
}

// with runs fn with exclusive access to the tree.
func (s *Session) with(now time.Time, fn func(tree *network.Tree, clock *network.ManualClock) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = now
	return fn(s.tree, s.clock)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore is the registry of live sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Add registers a session for tree under a fresh id.
func (st *SessionStore) Add(label, preset string, tree *network.Tree, clock *network.ManualClock, now time.Time) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Label:     label,
		Preset:    preset,
		CreatedAt: now,
		tree:      tree,
		clock:     clock,
		lastUsed:  now,
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
	return s
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove drops a session. It reports whether the id existed.
func (st *SessionStore) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// List returns the sessions, oldest first.
func (st *SessionStore) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Expire removes every session idle since before cutoff and returns their
// ids.
func (st *SessionStore) Expire(cutoff time.Time) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	var expired []string
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			delete(st.sessions, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}
