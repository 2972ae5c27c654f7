package manager

import (
	"context"
	"testing"
	"time"

	"broadcast-control-plane/backend/internal/admin/domain"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

func TestSweep_ForceEndsOrphansPastDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.admins.Create(ctx, domain.SystemUsername); err != nil {
		t.Fatal(err)
	}
	ident, _, _ := f.manager.AuthenticateCredentials(ctx, "alice", "pw", "c1")
	s1, _ := f.manager.CreateOwnedSession(ctx, ident.AdminID, "c1", "Alice")
	if err := f.manager.DeleteIdentity(ctx, ident.AdminID); err != nil {
		t.Fatal(err)
	}

	sweeper := NewSweeper(f.admins, f.sessions, f.manager, f.authority, nil, 0)

	// Within the grace window nothing happens.
	sweeper.SetNow(func() time.Time { return time.Now().UTC().Add(time.Minute) })
	sweeper.Sweep(ctx)
	got, _ := f.sessions.GetByID(ctx, s1.ID)
	if !got.Active() {
		t.Fatal("orphan ended inside grace window")
	}

	// Past the deadline the session is force-ended and the system identity
	// drops it from its owned set.
	sweeper.SetNow(func() time.Time { return time.Now().UTC().Add(defaultOrphanGrace + time.Minute) })
	sweeper.Sweep(ctx)
	got, _ = f.sessions.GetByID(ctx, s1.ID)
	if got.Active() {
		t.Error("orphan survived past its deadline")
	}
	system, _ := f.admins.Get(ctx, domain.SystemAdminID)
	if system.OwnsSession(s1.ID) {
		t.Error("ended orphan still in system owned set")
	}
}

func TestSweep_DeletesIdleIdentities(t *testing.T) {
	admins := adminrepo.NewMemoryRepository()
	sessions := sessionrepo.NewMemoryRepository()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	admins.SetNow(func() time.Time { return base })

	idle, _ := admins.Create(context.Background(), "idle")
	if _, err := admins.Create(context.Background(), domain.SystemUsername); err != nil {
		t.Fatal(err)
	}

	retention := 24 * time.Hour
	sweeper := NewSweeper(admins, sessions, nil, nil, nil, retention)
	sweeper.SetNow(func() time.Time { return base.Add(retention + time.Hour) })
	sweeper.Sweep(context.Background())

	if got, _ := admins.Get(context.Background(), idle.AdminID); got != nil {
		t.Error("idle identity survived the retention sweep")
	}
	if got, _ := admins.Get(context.Background(), domain.SystemAdminID); got == nil {
		t.Error("system identity must never be swept")
	}
}

func TestSweep_SparesActiveAndOwningIdentities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.manager.nowF = func() time.Time { return base }

	owner, _, _ := f.manager.AuthenticateCredentials(ctx, "owner", "pw", "c1")
	_, _ = f.manager.CreateOwnedSession(ctx, owner.AdminID, "c1", "Owner")
	_ = f.manager.UnregisterConnection(ctx, "c1")

	connected, _, _ := f.manager.AuthenticateCredentials(ctx, "connected", "pw", "c2")

	retention := 24 * time.Hour
	sweeper := NewSweeper(f.admins, f.sessions, f.manager, nil, nil, retention)
	sweeper.SetNow(func() time.Time { return base.Add(retention + time.Hour) })
	sweeper.Sweep(ctx)

	// Owning a session protects from the sweep even when idle.
	if got, _ := f.admins.Get(ctx, owner.AdminID); got == nil {
		t.Error("session-owning identity was swept")
	}
	// A live connection protects regardless of lastSeenAt.
	if got, _ := f.admins.Get(ctx, connected.AdminID); got == nil {
		t.Error("connected identity was swept")
	}
}

func TestSweep_PrunesExpiredRefreshTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ident, _, _ := f.manager.AuthenticateCredentials(ctx, "alice", "pw", "c1")
	if err := f.manager.RecordRefreshToken(ctx, ident.AdminID, "dead", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.RecordRefreshToken(ctx, ident.AdminID, "live", base.Add(720*time.Hour)); err != nil {
		t.Fatal(err)
	}

	sweeper := NewSweeper(f.admins, f.sessions, f.manager, nil, nil, 0)
	sweeper.SetNow(func() time.Time { return base.Add(2 * time.Hour) })
	sweeper.Sweep(ctx)

	got, _ := f.admins.Get(ctx, ident.AdminID)
	if got.HasRefreshToken("dead") {
		t.Error("naturally expired refresh jti survived the sweep")
	}
	if !got.HasRefreshToken("live") {
		t.Error("unexpired refresh jti was pruned")
	}
}
