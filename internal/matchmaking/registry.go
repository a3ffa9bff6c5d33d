package matchmaking

import (
	"context"
	"sync"
)

// State is the lifecycle of one search session. Every state except
// StateSearching is terminal, apart from a claim that the store refused.
type State string

const (
	StateSearching State = "searching"
	// StateClaimed holds a session while a match is being committed.
	StateClaimed  State = "claimed"
	StateMatched  State = "matched"
	StateCanceled State = "cancelled"
	StateTimedOut State = "timed_out"
)

type session struct {
	userID string
	mode   string
	elo    int
	member string
	cancel context.CancelFunc
	state  State
}

// Registry is the per-instance table of live search sessions, one per user.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]*session
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*session)}
}

func (r *Registry) add(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[s.userID]; ok {
		return false
	}
	r.byUser[s.userID] = s
	return true
}

func (r *Registry) Active(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[userID]
	return ok
}

func (r *Registry) state(s *session) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.state
}

// remove drops s if it is still the user's current session.
func (r *Registry) remove(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[s.userID] == s {
		delete(r.byUser, s.userID)
	}
}

// end moves a searching session to a terminal state and stops it. It
// reports false when the session is claimed by a match in progress.
func (r *Registry) end(userID string, to State) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUser[userID]
	if !ok || s.state != StateSearching {
		return s, false
	}
	s.state = to
	s.cancel()
	delete(r.byUser, userID)
	return s, true
}

// claim reserves the searcher and, when it searches on this instance, the
// candidate. A candidate unknown to the registry searches elsewhere and is
// guarded by the store claim alone.
func (r *Registry) claim(userID, candidateID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byUser[userID]
	if s == nil || s.state != StateSearching {
		return false
	}
	c := r.byUser[candidateID]
	if c != nil && c.state != StateSearching {
		return false
	}
	s.state = StateClaimed
	if c != nil {
		c.state = StateClaimed
	}
	return true
}

func (r *Registry) release(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if s := r.byUser[id]; s != nil && s.state == StateClaimed {
			s.state = StateSearching
		}
	}
}

// matched stops both claimed sessions.
func (r *Registry) matched(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if s := r.byUser[id]; s != nil && s.state == StateClaimed {
			s.state = StateMatched
			s.cancel()
			delete(r.byUser, id)
		}
	}
}
