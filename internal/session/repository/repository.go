// Package repository provides session storage. Sessions are runtime state,
// so the only production implementation is in-memory.
package repository

import (
	"context"
	"time"

	"broadcast-control-plane/backend/internal/session/domain"
)

// Repository defines storage for broadcast sessions.
//
// Lookups for missing sessions return (nil, nil); mutations of missing
// sessions return a session_not_found error.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	End(ctx context.Context, id string, at time.Time) error
	SetCurrentOwnerConnection(ctx context.Context, id, connectionID string) error
	ListByOwner(ctx context.Context, ownerAdminID string) ([]*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
	MarkOrphaned(ctx context.Context, id string, at, deadline time.Time) error
	Reassign(ctx context.Context, id, newOwnerAdminID string) error
}
