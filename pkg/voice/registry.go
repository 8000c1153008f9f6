package voice

import "sync"

// Registry tracks live session managers by session id so the HTTP and
// WebSocket layers can route widget connections to them.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Put registers a manager under its session id.
func (r *Registry) Put(m *Manager) {
	r.mu.Lock()
	r.managers[m.SessionID()] = m
	r.mu.Unlock()
}

// Get returns the manager for a session id, or nil.
func (r *Registry) Get(id string) *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.managers[id]
}

// Remove deregisters a session id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.managers, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.managers)
}
