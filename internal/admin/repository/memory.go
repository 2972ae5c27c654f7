package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"broadcast-control-plane/backend/internal/admin/domain"
	"broadcast-control-plane/backend/internal/apperrors"
)

// MemoryRepository is an in-memory Repository for tests. It follows the same
// lock discipline as the file store (serialized read-modify-write) without
// touching disk.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Identity
	byName map[string]string
	nowF   func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Identity),
		byName: make(map[string]string),
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock, for tests that sweep by LastSeenAt.
func (r *MemoryRepository) SetNow(nowF func() time.Time) { r.nowF = nowF }

// Create registers a new identity for username.
func (r *MemoryRepository) Create(ctx context.Context, username string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[username]; taken {
		return nil, apperrors.UsernameTaken(username)
	}
	adminID := uuid.New().String()
	if username == domain.SystemUsername {
		adminID = domain.SystemAdminID
	}
	now := r.nowF()
	ident := &domain.Identity{
		AdminID:       adminID,
		Username:      username,
		CreatedAt:     now,
		LastSeenAt:    now,
		SchemaVersion: domain.CurrentSchemaVersion,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	r.byID[adminID] = ident
	r.byName[username] = adminID
	return ident.Clone(), nil
}

// Get returns the identity for adminID, or nil if absent.
func (r *MemoryRepository) Get(ctx context.Context, adminID string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[adminID].Clone(), nil
}

// GetByUsername returns the identity for username, or nil if absent.
func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adminID, ok := r.byName[username]
	if !ok {
		return nil, nil
	}
	return r.byID[adminID].Clone(), nil
}

// Update applies mutate to a copy of the record and swaps it in atomically.
func (r *MemoryRepository) Update(ctx context.Context, adminID string, mutate func(*domain.Identity) error) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[adminID]
	if !ok {
		return nil, apperrors.IdentityNotFound(adminID)
	}
	updated := ident.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	if updated.AdminID != ident.AdminID || updated.Username != ident.Username {
		return nil, errors.New("admin_id and username are immutable")
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	r.byID[adminID] = updated
	return updated.Clone(), nil
}

// Delete removes the record. Returns false if it did not exist.
func (r *MemoryRepository) Delete(ctx context.Context, adminID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[adminID]
	if !ok {
		return false, nil
	}
	delete(r.byID, adminID)
	delete(r.byName, ident.Username)
	return true, nil
}

// ListAll returns every record.
func (r *MemoryRepository) ListAll(ctx context.Context) ([]*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Identity, 0, len(r.byID))
	for _, ident := range r.byID {
		out = append(out, ident.Clone())
	}
	return out, nil
}
