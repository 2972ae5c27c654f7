// Package repository defines persistence for admin identity records.
package repository

import (
	"context"

	"broadcast-control-plane/backend/internal/admin/domain"
)

// Repository is the durable store of admin identities and the
// username→adminID index.
//
// Get and GetByUsername return (nil, nil) when no record exists; errors are
// reserved for storage failures. A corrupted record reads as absent. Update
// is a read-modify-write serialized per record; the mutate function receives
// a private copy and its changes are persisted atomically when it returns
// nil.
type Repository interface {
	Create(ctx context.Context, username string) (*domain.Identity, error)
	Get(ctx context.Context, adminID string) (*domain.Identity, error)
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
	Update(ctx context.Context, adminID string, mutate func(*domain.Identity) error) (*domain.Identity, error)
	Delete(ctx context.Context, adminID string) (bool, error)
	ListAll(ctx context.Context) ([]*domain.Identity, error)
}
