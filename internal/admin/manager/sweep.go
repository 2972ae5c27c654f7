package manager

import (
	"context"
	"log"
	"time"

	"broadcast-control-plane/backend/internal/admin/domain"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
	"broadcast-control-plane/backend/internal/telemetry"
)

// RevocationPruner drops naturally expired revocation entries. Implemented
// by security.Authority.
type RevocationPruner interface {
	PruneRevocations(now time.Time) int
}

// Sweeper runs the lifecycle sweep: idle-identity retention, force-ending of
// orphaned sessions past their grace deadline, pruning of naturally expired
// refresh-token entries, and revocation-list pruning.
type Sweeper struct {
	admins      adminrepo.Repository
	sessions    sessionrepo.Repository
	manager     *Manager
	revocations RevocationPruner
	emitter     telemetry.EventEmitter
	retention   time.Duration
	nowF        func() time.Time
}

// NewSweeper returns a Sweeper. retention is the inactivity window after
// which an identity with no owned sessions is deleted; zero disables
// identity retention. revocations and emitter may be nil.
func NewSweeper(admins adminrepo.Repository, sessions sessionrepo.Repository, m *Manager, revocations RevocationPruner, emitter telemetry.EventEmitter, retention time.Duration) *Sweeper {
	return &Sweeper{
		admins:      admins,
		sessions:    sessions,
		manager:     m,
		revocations: revocations,
		emitter:     emitter,
		retention:   retention,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock, for tests.
func (s *Sweeper) SetNow(nowF func() time.Time) { s.nowF = nowF }

// Sweep runs one pass. Each stage is independent; a failure in one is logged
// and does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.nowF()
	if err := s.endExpiredOrphans(ctx, now); err != nil {
		log.Printf("sweep: orphans: %v", err)
	}
	if err := s.sweepIdleIdentities(ctx, now); err != nil {
		log.Printf("sweep: identities: %v", err)
	}
	if err := s.pruneRefreshTokens(ctx, now); err != nil {
		log.Printf("sweep: refresh tokens: %v", err)
	}
	if s.revocations != nil {
		s.revocations.PruneRevocations(now)
	}
}

// endExpiredOrphans force-ends orphaned sessions whose grace deadline has
// passed and drops them from the system identity's owned set.
func (s *Sweeper) endExpiredOrphans(ctx context.Context, now time.Time) error {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return err
	}
	for _, sess := range all {
		if !sess.Active() || !sess.Orphaned() || sess.OrphanDeadline == nil || sess.OrphanDeadline.After(now) {
			continue
		}
		if err := s.sessions.End(ctx, sess.ID, now); err != nil {
			log.Printf("sweep: end orphan %s: %v", sess.ID, err)
			continue
		}
		if sess.OwnerAdminID == domain.SystemAdminID {
			_, err := s.admins.Update(ctx, domain.SystemAdminID, func(i *domain.Identity) error {
				i.RemoveOwnedSession(sess.ID)
				return nil
			})
			if err != nil {
				log.Printf("sweep: prune system owned set %s: %v", sess.ID, err)
			}
		}
		telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
			SessionID: sess.ID,
			EventType: telemetry.EventSessionEnded,
			Source:    "sweep",
			CreatedAt: now,
		})
	}
	return nil
}

// sweepIdleIdentities deletes identities with zero owned sessions, no live
// connections, and no activity inside the retention window. The system
// identity is never swept.
func (s *Sweeper) sweepIdleIdentities(ctx context.Context, now time.Time) error {
	if s.retention <= 0 {
		return nil
	}
	all, err := s.admins.ListAll(ctx)
	if err != nil {
		return err
	}
	cutoff := now.Add(-s.retention)
	for _, ident := range all {
		if ident.IsSystem() || len(ident.OwnedSessionIDs) > 0 {
			continue
		}
		if ident.LastSeenAt.After(cutoff) {
			continue
		}
		if s.manager != nil && len(s.manager.ConnectionsOf(ident.AdminID)) > 0 {
			continue
		}
		if _, err := s.admins.Delete(ctx, ident.AdminID); err != nil {
			log.Printf("sweep: delete identity %s: %v", ident.AdminID, err)
			continue
		}
		telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
			AdminID:   ident.AdminID,
			EventType: telemetry.EventIdentitySwept,
			Source:    "sweep",
			CreatedAt: now,
		})
	}
	return nil
}

// pruneRefreshTokens drops refresh-token entries whose token has expired
// naturally, mirroring the blacklist's natural-expiry pruning so identity
// records do not accrete dead jtis.
func (s *Sweeper) pruneRefreshTokens(ctx context.Context, now time.Time) error {
	all, err := s.admins.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, ident := range all {
		stale := false
		for _, ref := range ident.ActiveRefreshTokens {
			if !ref.ExpiresAt.After(now) {
				stale = true
				break
			}
		}
		if !stale {
			continue
		}
		if _, err := s.admins.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
			i.PruneExpiredRefreshTokens(now)
			return nil
		}); err != nil {
			log.Printf("sweep: prune refresh tokens %s: %v", ident.AdminID, err)
		}
	}
	return nil
}

// RunEvery sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
