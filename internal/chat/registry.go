package chat

import (
	"sync"

	"aix/internal/domain"
)

// DefaultMaxSessions bounds the registry when no limit is configured.
const DefaultMaxSessions = 256

// Registry tracks open sessions by id. When full, the oldest session is
// closed to make room.
type Registry struct {
	sender Sender
	opts   Options
	max    int

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry(sender Sender, opts Options, maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		sender:   sender,
		opts:     opts.withDefaults(),
		max:      maxSessions,
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Create() *Session {
	s := NewSession(r.sender, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.order) >= r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		if old, ok := r.sessions[oldest]; ok {
			old.Close()
			delete(r.sessions, oldest)
			r.opts.Logger.Debug().Str("session_id", oldest).Msg("chat: evicted session")
		}
	}
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// Dispose closes and forgets the session.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
