// Package manager binds transport connections to persistent admin
// identities. It is the in-memory authority: the durable truth lives in the
// admin repository, while connection state exists only here and dies with
// the process.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"broadcast-control-plane/backend/internal/admin/domain"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/security"
	sessiondomain "broadcast-control-plane/backend/internal/session/domain"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

// TokenValidator validates access tokens. Implemented by security.Authority.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (*security.Claims, error)
}

// OwnershipVerifier is the authorization chokepoint for session operations.
// Implemented by authz.Guard.
type OwnershipVerifier interface {
	Verify(ctx context.Context, adminID, sessionID string, op authz.Operation) (authz.Decision, error)
}

// liveIdentity is the in-memory connection state for one identity.
type liveIdentity struct {
	tokenVersion int64
	conns        map[string]time.Time // connectionID -> authenticatedAt
}

// Manager resolves connections to identities and drives reconnection
// recovery. All live-map mutation goes through one mutex; durable mutation
// is serialized by the repository's per-record locking.
type Manager struct {
	admins   adminrepo.Repository
	sessions sessionrepo.Repository
	hasher   *security.Hasher
	tokens   TokenValidator
	guard    OwnershipVerifier

	mu     sync.Mutex
	live   map[string]*liveIdentity // adminID -> connection state
	byConn map[string]string        // connectionID -> adminID

	orphanGrace time.Duration
	nowF        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithOrphanGrace sets how long orphaned sessions survive after their owner
// identity is deleted.
func WithOrphanGrace(d time.Duration) Option {
	return func(m *Manager) { m.orphanGrace = d }
}

// WithNow overrides the clock, for tests.
func WithNow(nowF func() time.Time) Option {
	return func(m *Manager) { m.nowF = nowF }
}

const defaultOrphanGrace = 30 * time.Minute

// New returns a Manager. The token validator is attached afterwards with
// SetTokenValidator, since the authority's version source is the manager
// itself.
func New(admins adminrepo.Repository, sessions sessionrepo.Repository, hasher *security.Hasher, opts ...Option) *Manager {
	m := &Manager{
		admins:      admins,
		sessions:    sessions,
		hasher:      hasher,
		live:        make(map[string]*liveIdentity),
		byConn:      make(map[string]string),
		orphanGrace: defaultOrphanGrace,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTokenValidator attaches the token authority for AuthenticateToken.
func (m *Manager) SetTokenValidator(tokens TokenValidator) { m.tokens = tokens }

// SetOwnershipGuard attaches the guard consulted by VerifyOwnership.
func (m *Manager) SetOwnershipGuard(guard OwnershipVerifier) { m.guard = guard }

// VerifyOwnership reports whether adminID holds write authority over
// sessionID. A denial is a false result, not an error; only evaluation
// failures surface as errors.
func (m *Manager) VerifyOwnership(ctx context.Context, adminID, sessionID string) (bool, error) {
	decision, err := m.guard.Verify(ctx, adminID, sessionID, authz.OperationWrite)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotOwner, apperrors.KindUnauthenticated, apperrors.KindInsufficientPermission:
			return false, nil
		}
		return false, err
	}
	return decision.Allowed, nil
}

// AuthenticateCredentials authenticates username/credential, creating the
// identity on first sight (trust on first use), binds connectionID, and
// returns the identity with its recovered owned sessions.
func (m *Manager) AuthenticateCredentials(ctx context.Context, username, credential, connectionID string) (*domain.Identity, []*sessiondomain.Session, error) {
	ident, err := m.admins.GetByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if ident == nil {
		ident, err = m.register(ctx, username, credential)
		if err != nil {
			return nil, nil, err
		}
	} else if ident.PasswordHash == "" {
		// Legacy record without a credential: bind it now.
		hash, err := m.hasher.Hash([]byte(credential))
		if err != nil {
			return nil, nil, err
		}
		ident, err = m.admins.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
			i.PasswordHash = hash
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	} else if m.hasher.Compare(ident.PasswordHash, []byte(credential)) != nil {
		return nil, nil, apperrors.InvalidCredentials()
	}
	return m.bind(ctx, ident, connectionID)
}

// AuthenticateToken authenticates a bearer access token, binds connectionID,
// and returns the identity with its recovered owned sessions.
func (m *Manager) AuthenticateToken(ctx context.Context, accessToken, connectionID string) (*domain.Identity, []*sessiondomain.Session, error) {
	claims, err := m.tokens.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	ident, err := m.admins.Get(ctx, claims.AdminID)
	if err != nil {
		return nil, nil, err
	}
	if ident == nil {
		return nil, nil, apperrors.IdentityNotFound(claims.AdminID)
	}
	return m.bind(ctx, ident, connectionID)
}

func (m *Manager) register(ctx context.Context, username, credential string) (*domain.Identity, error) {
	hash, err := m.hasher.Hash([]byte(credential))
	if err != nil {
		return nil, err
	}
	ident, err := m.admins.Create(ctx, username)
	if err != nil {
		return nil, err
	}
	return m.admins.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
		i.PasswordHash = hash
		return nil
	})
}

// bind registers the connection, refreshes lastSeenAt, and runs the recovery
// algorithm: every still-active owned session is pointed at the new
// connection and returned; ids of sessions that no longer exist are dropped
// from the owned set silently.
func (m *Manager) bind(ctx context.Context, ident *domain.Identity, connectionID string) (*domain.Identity, []*sessiondomain.Session, error) {
	now := m.nowF()

	var recovered []*sessiondomain.Session
	var stale []string
	for _, sid := range ident.OwnedSessionIDs {
		s, err := m.sessions.GetByID(ctx, sid)
		if err != nil {
			return nil, nil, err
		}
		if s == nil || !s.Active() {
			stale = append(stale, sid)
			continue
		}
		if err := m.sessions.SetCurrentOwnerConnection(ctx, sid, connectionID); err != nil {
			return nil, nil, err
		}
		s.CurrentOwnerConnectionID = connectionID
		recovered = append(recovered, s)
	}
	sort.Slice(recovered, func(i, j int) bool { return recovered[i].ID < recovered[j].ID })

	updated, err := m.admins.Update(ctx, ident.AdminID, func(i *domain.Identity) error {
		i.LastSeenAt = now
		for _, sid := range stale {
			i.RemoveOwnedSession(sid)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	li, ok := m.live[updated.AdminID]
	if !ok {
		li = &liveIdentity{conns: make(map[string]time.Time)}
		m.live[updated.AdminID] = li
	}
	li.tokenVersion = updated.TokenVersion
	li.conns[connectionID] = now
	m.byConn[connectionID] = updated.AdminID
	m.mu.Unlock()

	return updated, recovered, nil
}

// ResolveIdentity returns the identity bound to connectionID.
func (m *Manager) ResolveIdentity(ctx context.Context, connectionID string) (*domain.Identity, error) {
	m.mu.Lock()
	adminID, ok := m.byConn[connectionID]
	m.mu.Unlock()
	if !ok {
		return nil, apperrors.IdentityNotFound(connectionID)
	}
	ident, err := m.admins.Get(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, apperrors.IdentityNotFound(adminID)
	}
	return ident, nil
}

// AdminIDFor returns the adminID bound to connectionID without touching the
// repository.
func (m *Manager) AdminIDFor(connectionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adminID, ok := m.byConn[connectionID]
	return adminID, ok
}

// RebindConnection points every active session owned by adminID at
// connectionID. Used when an already-bound identity switches its preferred
// connection. Last write wins across connections.
func (m *Manager) RebindConnection(ctx context.Context, adminID, connectionID string) error {
	ident, err := m.admins.Get(ctx, adminID)
	if err != nil {
		return err
	}
	if ident == nil {
		return apperrors.IdentityNotFound(adminID)
	}
	for _, sid := range ident.OwnedSessionIDs {
		s, err := m.sessions.GetByID(ctx, sid)
		if err != nil {
			return err
		}
		if s == nil || !s.Active() {
			continue
		}
		if err := m.sessions.SetCurrentOwnerConnection(ctx, sid, connectionID); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterConnection removes the connection from its identity's active set.
// The identity and its sessions survive: ownership persists as owner-offline
// until reconnection or a lifecycle sweep. Sessions pointing at the departed
// connection are rebound to the identity's most recent remaining connection,
// or cleared when none remains.
func (m *Manager) UnregisterConnection(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	adminID, ok := m.byConn[connectionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.byConn, connectionID)
	replacement := ""
	if li, ok := m.live[adminID]; ok {
		delete(li.conns, connectionID)
		var latest time.Time
		for id, at := range li.conns {
			if at.After(latest) || replacement == "" {
				replacement, latest = id, at
			}
		}
		if len(li.conns) == 0 {
			delete(m.live, adminID)
		}
	}
	m.mu.Unlock()

	ident, err := m.admins.Get(ctx, adminID)
	if err != nil || ident == nil {
		return err
	}
	for _, sid := range ident.OwnedSessionIDs {
		s, err := m.sessions.GetByID(ctx, sid)
		if err != nil {
			return err
		}
		if s == nil || !s.Active() || s.CurrentOwnerConnectionID != connectionID {
			continue
		}
		if err := m.sessions.SetCurrentOwnerConnection(ctx, sid, replacement); err != nil {
			return err
		}
	}
	return nil
}

// ConnectionsOf returns the live connection ids for adminID.
func (m *Manager) ConnectionsOf(adminID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.live[adminID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(li.conns))
	for id := range li.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TokenVersion implements security.VersionSource. The live cache answers
// without I/O for bound identities; cold identities fall back to the store.
func (m *Manager) TokenVersion(ctx context.Context, adminID string) (int64, error) {
	m.mu.Lock()
	if li, ok := m.live[adminID]; ok {
		v := li.tokenVersion
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()
	ident, err := m.admins.Get(ctx, adminID)
	if err != nil {
		return 0, err
	}
	if ident == nil {
		return 0, apperrors.IdentityNotFound(adminID)
	}
	return ident.TokenVersion, nil
}

// BumpTokenVersion increments the identity's token version, invalidating
// every outstanding token in O(1), and clears the refresh-token set.
func (m *Manager) BumpTokenVersion(ctx context.Context, adminID string) (int64, error) {
	updated, err := m.admins.Update(ctx, adminID, func(i *domain.Identity) error {
		i.TokenVersion++
		i.ActiveRefreshTokens = nil
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	if li, ok := m.live[adminID]; ok {
		li.tokenVersion = updated.TokenVersion
	}
	m.mu.Unlock()
	return updated.TokenVersion, nil
}

// RecordRefreshToken adds a freshly issued refresh-token id to the
// identity's active set, tagged with its natural expiry for sweep pruning.
func (m *Manager) RecordRefreshToken(ctx context.Context, adminID, jti string, expiresAt time.Time) error {
	_, err := m.admins.Update(ctx, adminID, func(i *domain.Identity) error {
		i.AddRefreshToken(jti, expiresAt)
		return nil
	})
	return err
}

// RotateRefreshToken atomically retires oldJTI and records newJTI.
// Presenting an id that is no longer active means the token was already
// rotated: a replay. All tokens for the identity are revoked and the caller
// gets token_revoked.
func (m *Manager) RotateRefreshToken(ctx context.Context, adminID, oldJTI, newJTI string, newExpiresAt time.Time) error {
	reused := false
	_, err := m.admins.Update(ctx, adminID, func(i *domain.Identity) error {
		if !i.HasRefreshToken(oldJTI) {
			reused = true
			i.TokenVersion++
			i.ActiveRefreshTokens = nil
			return nil
		}
		i.RemoveRefreshToken(oldJTI)
		i.AddRefreshToken(newJTI, newExpiresAt)
		return nil
	})
	if err != nil {
		return err
	}
	if reused {
		m.mu.Lock()
		if li, ok := m.live[adminID]; ok {
			li.tokenVersion++
		}
		m.mu.Unlock()
		return apperrors.TokenRevoked()
	}
	return nil
}

// CreateOwnedSession creates a session owned by adminID, bound to the
// creating connection, and records it in the owned set. Set add operations
// commute, so concurrent creates from different connections of the same
// identity never lose an id.
func (m *Manager) CreateOwnedSession(ctx context.Context, adminID, connectionID, displayName string) (*sessiondomain.Session, error) {
	ident, err := m.admins.Get(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, apperrors.IdentityNotFound(adminID)
	}
	s := &sessiondomain.Session{
		ID:                       uuid.New().String(),
		OwnerAdminID:             adminID,
		CurrentOwnerConnectionID: connectionID,
		CreatedByDisplayName:     displayName,
		CreatedAt:                m.nowF(),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	if _, err := m.admins.Update(ctx, adminID, func(i *domain.Identity) error {
		i.AddOwnedSession(s.ID)
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// EndOwnedSession ends sessionID and removes it from adminID's owned set.
func (m *Manager) EndOwnedSession(ctx context.Context, adminID, sessionID string) error {
	if err := m.sessions.End(ctx, sessionID, m.nowF()); err != nil {
		return err
	}
	_, err := m.admins.Update(ctx, adminID, func(i *domain.Identity) error {
		i.RemoveOwnedSession(sessionID)
		return nil
	})
	return err
}

// DeleteIdentity hard-deletes the identity. Still-active owned sessions are
// orphaned, not cascade-deleted: each gets a force-end deadline and is
// absorbed into the system identity, which manages it until the sweeper ends
// it.
func (m *Manager) DeleteIdentity(ctx context.Context, adminID string) error {
	if adminID == domain.SystemAdminID {
		return apperrors.InsufficientPermission()
	}
	ident, err := m.admins.Get(ctx, adminID)
	if err != nil {
		return err
	}
	if ident == nil {
		return apperrors.IdentityNotFound(adminID)
	}
	now := m.nowF()
	var orphaned []string
	for _, sid := range ident.OwnedSessionIDs {
		s, err := m.sessions.GetByID(ctx, sid)
		if err != nil {
			return err
		}
		if s == nil || !s.Active() {
			continue
		}
		if err := m.sessions.MarkOrphaned(ctx, sid, now, now.Add(m.orphanGrace)); err != nil {
			return err
		}
		if err := m.sessions.Reassign(ctx, sid, domain.SystemAdminID); err != nil {
			return err
		}
		orphaned = append(orphaned, sid)
	}
	if len(orphaned) > 0 {
		// Best effort: the sessions are already reassigned even when the
		// system record is missing.
		_, err = m.admins.Update(ctx, domain.SystemAdminID, func(i *domain.Identity) error {
			for _, sid := range orphaned {
				i.AddOwnedSession(sid)
			}
			return nil
		})
		if err != nil && apperrors.KindOf(err) != apperrors.KindIdentityNotFound {
			return err
		}
	}
	if _, err := m.admins.Delete(ctx, adminID); err != nil {
		return err
	}

	m.mu.Lock()
	if li, ok := m.live[adminID]; ok {
		for id := range li.conns {
			delete(m.byConn, id)
		}
		delete(m.live, adminID)
	}
	m.mu.Unlock()
	return nil
}
