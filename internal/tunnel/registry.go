package tunnel

import "sync"

// Registry tracks live sessions so they can be closed together on
// shutdown. Once closed, sessions added late are shut down on arrival.
type Registry struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*session]struct{})}
}

func (r *Registry) add(s *session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	closed := r.closed
	r.mu.Unlock()
	if closed {
		s.shutdown()
	}
}

func (r *Registry) remove(s *session) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Closed reports whether CloseAll has run.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// CloseAll sends a going-away close to both sides of every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	open := make([]*session, 0, len(r.sessions))
	for s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	for _, s := range open {
		s.shutdown()
	}
}
