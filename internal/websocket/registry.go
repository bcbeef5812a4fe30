package websocket

import "sync"

// Registry tracks every open connection for the liveness monitor and the
// admin cleanup. Room membership lives in the room store, not here.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Remove drops a connection. Idempotent.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn.ID())
}

// All returns a snapshot of every open connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
