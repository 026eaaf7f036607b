package consultation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"kairos-intake/internal/platform/metrics"
)

// Registry holds every live session. It is the only place that does.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{sessions: make(map[string]*Session), metrics: m}
}

func (r *Registry) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; ok {
		return fmt.Errorf("session %s already registered", s.id)
	}
	r.sessions[s.id] = s
	r.metrics.SetActiveSessions(len(r.sessions))
	return nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove reports whether id was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleSince returns the ids of sessions with no activity after cutoff,
// oldest first.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	type idle struct {
		id   string
		last time.Time
	}
	var found []idle
	for id, s := range r.sessions {
		if last := s.LastActivity(); last.Before(cutoff) {
			found = append(found, idle{id, last})
		}
	}
	r.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].last.Before(found[j].last) })
	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids
}
