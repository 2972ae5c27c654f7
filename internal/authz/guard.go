package authz

import (
	"context"

	admindomain "broadcast-control-plane/backend/internal/admin/domain"
	"broadcast-control-plane/backend/internal/apperrors"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

// Guard enforces session ownership on top of the policy evaluator. It is the
// single chokepoint for session access: callers never compare owner ids
// themselves.
type Guard struct {
	sessions  sessionrepo.Repository
	evaluator Evaluator
}

// NewGuard returns a Guard over the session store.
func NewGuard(sessions sessionrepo.Repository, evaluator Evaluator) *Guard {
	return &Guard{sessions: sessions, evaluator: evaluator}
}

// Verify checks whether adminID may perform op on sessionID. adminID may be
// empty for an unauthenticated caller; the policy denies those. Returns the
// decision for allowed access so callers can tag read-only responses, and a
// typed error on denial.
func (g *Guard) Verify(ctx context.Context, adminID, sessionID string, op Operation) (Decision, error) {
	s, err := g.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return Decision{}, err
	}
	if s == nil {
		return Decision{}, apperrors.SessionNotFound(sessionID)
	}

	input := AccessInput{
		AdminID:         adminID,
		OwnerAdminID:    s.OwnerAdminID,
		Operation:       op,
		SessionOrphaned: s.Orphaned(),
		SystemIdentity:  adminID == admindomain.SystemAdminID,
		Authenticated:   adminID != "",
	}
	decision, err := g.evaluator.EvaluateAccess(ctx, input)
	if err != nil {
		// Fail closed.
		return Decision{}, apperrors.InsufficientPermission()
	}
	if !decision.Allowed {
		if !input.Authenticated {
			return Decision{}, apperrors.Unauthenticated()
		}
		return Decision{}, apperrors.NotOwner()
	}
	return decision, nil
}
