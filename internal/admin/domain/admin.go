// Package domain defines the persistent admin identity record: the
// reconnection-stable principal that survives any individual transport
// connection.
package domain

import (
	"errors"
	"regexp"
	"time"
)

// CurrentSchemaVersion is written on every persisted record. Readers treat
// records from a newer schema as unreadable rather than guessing.
const CurrentSchemaVersion = 1

// SystemAdminID is the reserved identity that holds orphaned sessions
// read-only until they are reclaimed or force-ended.
const SystemAdminID = "system"

// SystemUsername is the username bound to SystemAdminID.
const SystemUsername = "system"

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// Identity is a persistent admin identity. AdminID never changes for a given
// username across the identity's lifetime. Active connection IDs are held by
// the in-memory manager only and are never serialized.
type Identity struct {
	AdminID    string    `json:"admin_id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	// PasswordHash is the bcrypt hash bound on first successful credentials
	// authentication. Never logged.
	PasswordHash string `json:"password_hash,omitempty"`
	// OwnedSessionIDs is the persisted set of sessions this identity owns.
	OwnedSessionIDs []string `json:"owned_session_ids"`
	// TokenVersion is a monotonic counter; bumping it bulk-revokes every
	// previously issued token for this identity.
	TokenVersion int64 `json:"token_version"`
	// ActiveRefreshTokens is the persisted set of refresh tokens still valid
	// for rotation. Entries carry their natural expiry so the lifecycle sweep
	// can prune them; without that the set grows for as long as the identity
	// lives.
	ActiveRefreshTokens []RefreshTokenRef `json:"active_refresh_tokens"`
	SchemaVersion       int               `json:"schema_version"`
}

// RefreshTokenRef is one active refresh token: its jti and natural expiry.
type RefreshTokenRef struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks the record's invariants.
func (i *Identity) Validate() error {
	if i.AdminID == "" {
		return errors.New("admin_id is required")
	}
	if !usernameRe.MatchString(i.Username) {
		return errors.New("username must be 3-64 characters of [a-zA-Z0-9._-]")
	}
	if i.SchemaVersion != CurrentSchemaVersion {
		return errors.New("unsupported schema version")
	}
	return nil
}

// IsSystem reports whether this is the reserved system identity.
func (i *Identity) IsSystem() bool { return i.AdminID == SystemAdminID }

// Clone returns a deep copy safe to mutate without affecting the original.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.OwnedSessionIDs = append([]string(nil), i.OwnedSessionIDs...)
	c.ActiveRefreshTokens = append([]RefreshTokenRef(nil), i.ActiveRefreshTokens...)
	return &c
}

// OwnsSession reports whether sessionID is in the owned set.
func (i *Identity) OwnsSession(sessionID string) bool {
	return contains(i.OwnedSessionIDs, sessionID)
}

// AddOwnedSession adds sessionID to the owned set. Returns false if it was
// already present. Set semantics: adds from different connections commute.
func (i *Identity) AddOwnedSession(sessionID string) bool {
	if contains(i.OwnedSessionIDs, sessionID) {
		return false
	}
	i.OwnedSessionIDs = append(i.OwnedSessionIDs, sessionID)
	return true
}

// RemoveOwnedSession removes sessionID from the owned set. Returns false if
// it was not present.
func (i *Identity) RemoveOwnedSession(sessionID string) bool {
	var removed bool
	i.OwnedSessionIDs, removed = remove(i.OwnedSessionIDs, sessionID)
	return removed
}

// AddRefreshToken records jti as an active refresh token until expiresAt.
func (i *Identity) AddRefreshToken(jti string, expiresAt time.Time) {
	for _, ref := range i.ActiveRefreshTokens {
		if ref.JTI == jti {
			return
		}
	}
	i.ActiveRefreshTokens = append(i.ActiveRefreshTokens, RefreshTokenRef{JTI: jti, ExpiresAt: expiresAt})
}

// RemoveRefreshToken drops jti from the active refresh-token set. Returns
// false if jti was not active.
func (i *Identity) RemoveRefreshToken(jti string) bool {
	for idx, ref := range i.ActiveRefreshTokens {
		if ref.JTI == jti {
			i.ActiveRefreshTokens = append(i.ActiveRefreshTokens[:idx], i.ActiveRefreshTokens[idx+1:]...)
			return true
		}
	}
	return false
}

// HasRefreshToken reports whether jti is an active refresh token.
func (i *Identity) HasRefreshToken(jti string) bool {
	for _, ref := range i.ActiveRefreshTokens {
		if ref.JTI == jti {
			return true
		}
	}
	return false
}

// PruneExpiredRefreshTokens drops entries whose token has expired naturally.
// Returns the number removed.
func (i *Identity) PruneExpiredRefreshTokens(now time.Time) int {
	kept := i.ActiveRefreshTokens[:0]
	for _, ref := range i.ActiveRefreshTokens {
		if ref.ExpiresAt.After(now) {
			kept = append(kept, ref)
		}
	}
	removed := len(i.ActiveRefreshTokens) - len(kept)
	i.ActiveRefreshTokens = kept
	return removed
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func remove(s []string, v string) ([]string, bool) {
	for idx, e := range s {
		if e == v {
			return append(s[:idx], s[idx+1:]...), true
		}
	}
	return s, false
}
