package gateway

import (
	"context"
	"sync"
	"testing"

	"broadcast-control-plane/backend/internal/admin/manager"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/ratelimit"
	"broadcast-control-plane/backend/internal/security"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []interface{}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, notification interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, notification)
	return nil
}

func (c *fakeConn) notifications() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.sent))
	copy(out, c.sent)
	return out
}

type gatewayFixture struct {
	gateway  *Gateway
	manager  *manager.Manager
	admins   *adminrepo.MemoryRepository
	sessions *sessionrepo.MemoryRepository
	limiter  *ratelimit.Limiter
}

func newGateway(t *testing.T, cfg ratelimit.Config) *gatewayFixture {
	t.Helper()
	admins := adminrepo.NewMemoryRepository()
	sessions := sessionrepo.NewMemoryRepository()
	m := manager.New(admins, sessions, security.NewHasher(4))

	provider, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	blacklist, _ := security.NewBlacklist("")
	authority := security.NewAuthority(provider, blacklist, m)
	m.SetTokenValidator(authority)

	evaluator, err := authz.NewOPAEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	guard := authz.NewGuard(sessions, evaluator)
	limiter := ratelimit.New(cfg)

	return &gatewayFixture{
		gateway:  New(m, authority, sessions, guard, limiter, nil),
		manager:  m,
		admins:   admins,
		sessions: sessions,
		limiter:  limiter,
	}
}

func credentials(username, credential string) *AuthenticateRequest {
	return &AuthenticateRequest{Method: AuthMethodCredentials, Username: username, Credential: credential}
}

func TestAuthenticate_Credentials(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	conn := &fakeConn{id: "c1"}

	resp := f.gateway.Authenticate(context.Background(), conn, credentials("alice", "pw"))
	if !resp.Success || resp.Error != nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.AdminID == "" || resp.AccessToken == "" || resp.RefreshToken == "" || resp.AccessTokenExpiry.IsZero() {
		t.Fatalf("token material missing: %+v", resp)
	}
	if len(resp.OwnedSessions) != 0 {
		t.Errorf("fresh identity owns %d sessions", len(resp.OwnedSessions))
	}
}

func TestAuthenticate_TokenMethod(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	first := f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))

	resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, &AuthenticateRequest{
		Method:      AuthMethodToken,
		AccessToken: first.AccessToken,
	})
	if !resp.Success || resp.AdminID != first.AdminID {
		t.Fatalf("token auth = %+v", resp)
	}
}

func TestAuthenticate_BadTokenMapped(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	resp := f.gateway.Authenticate(context.Background(), &fakeConn{id: "c1"}, &AuthenticateRequest{
		Method:      AuthMethodToken,
		AccessToken: "garbage",
	})
	if resp.Success || resp.Error == nil || resp.Error.Kind != string(apperrors.KindTokenInvalid) {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAuthenticate_LockoutAfterFailures(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	if resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c0"}, credentials("alice", "pw")); !resp.Success {
		t.Fatal("seed login failed")
	}
	_ = f.gateway.Disconnect(ctx, "c0")

	for i := 0; i < 5; i++ {
		resp := f.gateway.Authenticate(ctx, &fakeConn{id: "cx"}, credentials("alice", "wrong"))
		if resp.Error == nil || resp.Error.Kind != string(apperrors.KindInvalidCredentials) {
			t.Fatalf("attempt %d = %+v", i+1, resp.Error)
		}
	}
	resp := f.gateway.Authenticate(ctx, &fakeConn{id: "cx"}, credentials("alice", "wrong"))
	if resp.Error == nil || resp.Error.Kind != string(apperrors.KindTooManyAttempts) {
		t.Fatalf("sixth attempt = %+v", resp.Error)
	}
	if resp.Error.RetryAfterSeconds != 1800 {
		t.Errorf("retryAfter = %d, want 1800", resp.Error.RetryAfterSeconds)
	}
}

func TestReconnection_NotificationAndRecovery(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	c1 := &fakeConn{id: "c1"}
	first := f.gateway.Authenticate(ctx, c1, credentials("alice", "pw"))

	created, err := f.gateway.CreateSession(ctx, "c1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.gateway.Disconnect(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	c2 := &fakeConn{id: "c2"}
	resp := f.gateway.Authenticate(ctx, c2, credentials("alice", "pw"))
	if !resp.Success {
		t.Fatalf("reconnect failed: %+v", resp.Error)
	}
	if len(resp.OwnedSessions) != 1 || resp.OwnedSessions[0].SessionID != created.SessionID {
		t.Fatalf("owned sessions = %+v", resp.OwnedSessions)
	}
	if resp.OwnedSessions[0].CurrentOwnerConnectionID != "c2" {
		t.Errorf("session not rebound: %+v", resp.OwnedSessions[0])
	}

	var found *ReconnectionNotification
	for _, n := range c2.notifications() {
		if rn, ok := n.(*ReconnectionNotification); ok {
			found = rn
		}
	}
	if found == nil || found.AdminID != first.AdminID || len(found.RecoveredSessionIDs) != 1 {
		t.Fatalf("reconnection notification = %+v", found)
	}
}

func TestRefresh_RotationAndReplay(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	auth := f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))

	rotated := f.gateway.Refresh(ctx, &RefreshTokenRequest{RefreshToken: auth.RefreshToken, AdminID: auth.AdminID})
	if !rotated.Success || rotated.AccessToken == "" || rotated.RefreshToken == "" {
		t.Fatalf("rotation = %+v", rotated)
	}

	// Replaying the original refresh token revokes everything.
	replay := f.gateway.Refresh(ctx, &RefreshTokenRequest{RefreshToken: auth.RefreshToken, AdminID: auth.AdminID})
	if replay.Success || replay.Error == nil || replay.Error.Kind != string(apperrors.KindTokenRevoked) {
		t.Fatalf("replay = %+v", replay)
	}

	// The rotated pair died with the bulk revocation.
	again := f.gateway.Refresh(ctx, &RefreshTokenRequest{RefreshToken: rotated.RefreshToken, AdminID: auth.AdminID})
	if again.Success {
		t.Error("post-replay refresh token still works")
	}
}

func TestSessionAccess_OwnershipMatrix(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))
	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, credentials("bob", "pw"))
	created, err := f.gateway.CreateSession(ctx, "c1", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	// Owner write.
	resp := f.gateway.SessionAccess(ctx, "c1", &SessionAccessRequest{SessionID: created.SessionID, AccessType: AccessWrite})
	if !resp.Success || resp.AccessType != AccessWrite {
		t.Fatalf("owner write = %+v", resp)
	}

	// Non-owner write denied.
	resp = f.gateway.SessionAccess(ctx, "c2", &SessionAccessRequest{SessionID: created.SessionID, AccessType: AccessWrite})
	if resp.Success || resp.Error.Kind != string(apperrors.KindNotOwner) {
		t.Fatalf("non-owner write = %+v", resp)
	}

	// Non-owner read downgraded to read-only.
	resp = f.gateway.SessionAccess(ctx, "c2", &SessionAccessRequest{SessionID: created.SessionID, AccessType: AccessRead})
	if !resp.Success || resp.AccessType != AccessRead || resp.SessionData == nil {
		t.Fatalf("non-owner read = %+v", resp)
	}

	// Unknown session.
	resp = f.gateway.SessionAccess(ctx, "c1", &SessionAccessRequest{SessionID: "nope", AccessType: AccessRead})
	if resp.Success || resp.Error.Kind != string(apperrors.KindSessionNotFound) {
		t.Fatalf("missing session = %+v", resp)
	}
}

func TestSessionAccess_UnboundConnection(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	resp := f.gateway.SessionAccess(context.Background(), "ghost", &SessionAccessRequest{SessionID: "s1", AccessType: AccessRead})
	if resp.Success || resp.Error.Kind != string(apperrors.KindUnauthenticated) {
		t.Fatalf("response = %+v", resp)
	}
}

func TestBlocklist_ShortCircuits(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))

	f.gateway.Blocklist().Block("c1")
	resp := f.gateway.SessionAccess(ctx, "c1", &SessionAccessRequest{SessionID: "s1", AccessType: AccessRead})
	if resp.Success || resp.Error.Kind != string(apperrors.KindBlocked) {
		t.Fatalf("blocked request = %+v", resp)
	}

	auth := f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))
	if auth.Success || auth.Error.Kind != string(apperrors.KindBlocked) {
		t.Fatalf("blocked authenticate = %+v", auth)
	}
}

func TestConnectionCeiling_Reject(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.MaxConnections = 1
	cfg.OnBreach = ratelimit.BreachReject
	f := newGateway(t, cfg)
	ctx := context.Background()

	if resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw")); !resp.Success {
		t.Fatal("first connection rejected")
	}
	resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, credentials("alice", "pw"))
	if resp.Success || resp.Error.Kind != string(apperrors.KindTooManyAttempts) {
		t.Fatalf("over-ceiling connection = %+v", resp)
	}
	// The rejected connection must not stay bound.
	if _, bound := f.manager.AdminIDFor("c2"); bound {
		t.Error("rejected connection left bound")
	}
}

func TestConnectionCeiling_EvictOldest(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.MaxConnections = 1
	cfg.OnBreach = ratelimit.BreachEvictOldest
	f := newGateway(t, cfg)
	ctx := context.Background()

	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))
	resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, credentials("alice", "pw"))
	if !resp.Success {
		t.Fatalf("evicting authenticate failed: %+v", resp.Error)
	}
	if _, bound := f.manager.AdminIDFor("c1"); bound {
		t.Error("evicted connection still bound")
	}
	if _, bound := f.manager.AdminIDFor("c2"); !bound {
		t.Error("new connection not bound")
	}
}

func TestEndSession_OwnerOnly(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))
	_ = f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, credentials("bob", "pw"))
	created, _ := f.gateway.CreateSession(ctx, "c1", "Alice")

	if err := f.gateway.EndSession(ctx, "c2", created.SessionID); apperrors.KindOf(err) != apperrors.KindNotOwner {
		t.Fatalf("non-owner end err = %v", err)
	}
	if err := f.gateway.EndSession(ctx, "c1", created.SessionID); err != nil {
		t.Fatalf("owner end: %v", err)
	}
	s, _ := f.sessions.GetByID(ctx, created.SessionID)
	if s.Active() {
		t.Error("session still active after end")
	}
}

func TestRevoke_Token(t *testing.T) {
	f := newGateway(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	auth := f.gateway.Authenticate(ctx, &fakeConn{id: "c1"}, credentials("alice", "pw"))

	if err := f.gateway.Revoke(ctx, auth.AccessToken, "logout"); err != nil {
		t.Fatal(err)
	}
	resp := f.gateway.Authenticate(ctx, &fakeConn{id: "c2"}, &AuthenticateRequest{
		Method:      AuthMethodToken,
		AccessToken: auth.AccessToken,
	})
	if resp.Success || resp.Error.Kind != string(apperrors.KindTokenRevoked) {
		t.Fatalf("revoked token auth = %+v", resp)
	}
}
