package security

import (
	"context"
	"time"
)

// VersionSource resolves the current token version for an identity. The
// manager implements it from its in-memory registry so validation never
// blocks on I/O.
type VersionSource interface {
	TokenVersion(ctx context.Context, adminID string) (int64, error)
}

// Authority is the full token authority: pure signature validation from the
// TokenProvider, per-token revocation from the blacklist, and bulk
// revocation via the identity's token version.
type Authority struct {
	provider  *TokenProvider
	blacklist *Blacklist
	versions  VersionSource
}

// NewAuthority composes the provider with revocation checks. blacklist may be
// nil to disable the revocation set (version checks still apply).
func NewAuthority(provider *TokenProvider, blacklist *Blacklist, versions VersionSource) *Authority {
	return &Authority{provider: provider, blacklist: blacklist, versions: versions}
}

// Provider exposes the underlying TokenProvider for issuance.
func (a *Authority) Provider() *TokenProvider { return a.provider }

// ValidateAccess fully validates an access token: signature, format, expiry,
// issuer/audience, revocation-set membership, and token-version match.
func (a *Authority) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	claims, err := a.provider.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	return a.checkRevocation(ctx, claims)
}

// ValidateRefresh is ValidateAccess for refresh tokens.
func (a *Authority) ValidateRefresh(ctx context.Context, token string) (*Claims, error) {
	claims, err := a.provider.ValidateRefresh(token)
	if err != nil {
		return nil, err
	}
	return a.checkRevocation(ctx, claims)
}

func (a *Authority) checkRevocation(ctx context.Context, claims *Claims) (*Claims, error) {
	if a.blacklist != nil && a.blacklist.Contains(claims.JTI) {
		return nil, invalid(ReasonRevoked)
	}
	current, err := a.versions.TokenVersion(ctx, claims.AdminID)
	if err != nil {
		return nil, invalid(ReasonRevoked)
	}
	// A mismatch means the identity's tokens were bulk-revoked after issuance.
	if claims.TokenVersion != current {
		return nil, invalid(ReasonVersionMismatch)
	}
	return claims, nil
}

// Revoke adds the token's jti to the revocation set until the token would
// have expired naturally anyway. The token must carry a valid signature;
// expired tokens need no revocation.
func (a *Authority) Revoke(ctx context.Context, token, reason string) error {
	claims, err := a.provider.ValidateAccess(token)
	if err != nil {
		claims, err = a.provider.ValidateRefresh(token)
	}
	if err != nil {
		return err
	}
	if a.blacklist == nil {
		return nil
	}
	return a.blacklist.Add(claims.JTI, claims.AdminID, reason, claims.ExpiresAt)
}

// RevokedUntil reports whether jti is currently revoked.
func (a *Authority) Revoked(jti string) bool {
	return a.blacklist != nil && a.blacklist.Contains(jti)
}

// PruneRevocations drops revocation entries whose tokens have expired
// naturally. Intended to run from the lifecycle sweep.
func (a *Authority) PruneRevocations(now time.Time) int {
	if a.blacklist == nil {
		return 0
	}
	return a.blacklist.Prune(now)
}
