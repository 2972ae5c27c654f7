package gateway

import (
	"context"
	"sort"
	"sync"
)

// Conn is one live transport connection. The transport implements it;
// the gateway only needs an id and a push channel.
type Conn interface {
	ID() string
	Send(ctx context.Context, notification interface{}) error
}

// Registry is the lock-guarded set of live connections.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Add registers conn, replacing any previous entry with the same id.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Remove forgets the connection.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connectionID)
}

// Get returns the connection, or nil.
func (r *Registry) Get(connectionID string) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[connectionID]
}

// Snapshot returns the live connections for the given ids, skipping ids that
// are no longer connected, ordered by id.
func (r *Registry) Snapshot(ids []string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
