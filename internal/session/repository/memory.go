package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/session/domain"
)

// MemoryRepository is the in-memory session store.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

// GetByID returns the session, or nil if absent.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].Clone(), nil
}

// Create registers a new session. The ID must be unset in the store.
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return apperrors.WriteFailed(fmt.Errorf("session %s already exists", s.ID))
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

// End marks the session ended at the given time. Ending an already-ended
// session is a no-op.
func (r *MemoryRepository) End(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	if s.EndedAt == nil {
		t := at
		s.EndedAt = &t
		s.CurrentOwnerConnectionID = ""
	}
	return nil
}

// SetCurrentOwnerConnection points the session at the owner's live
// connection. An empty connectionID means the owner is disconnected.
func (r *MemoryRepository) SetCurrentOwnerConnection(ctx context.Context, id, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	s.CurrentOwnerConnectionID = connectionID
	return nil
}

// ListByOwner returns every session owned by ownerAdminID.
func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerAdminID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.OwnerAdminID == ownerAdminID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// List returns every session.
func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

// MarkOrphaned records that the owner identity was deleted while the session
// ran, with a force-end deadline.
func (r *MemoryRepository) MarkOrphaned(ctx context.Context, id string, at, deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	orphanedAt, d := at, deadline
	s.OrphanedAt = &orphanedAt
	s.OrphanDeadline = &d
	s.CurrentOwnerConnectionID = ""
	return nil
}

// Reassign transfers ownership. Orphan markers are kept: a session absorbed
// by the system identity still carries its force-end deadline.
func (r *MemoryRepository) Reassign(ctx context.Context, id, newOwnerAdminID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.SessionNotFound(id)
	}
	s.OwnerAdminID = newOwnerAdminID
	s.CurrentOwnerConnectionID = ""
	return nil
}
