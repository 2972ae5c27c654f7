// Package gateway is the privileged boundary of the control plane. The
// transport layer owns wire framing; it hands the gateway decoded requests
// plus a Conn handle, and the gateway runs every request through the
// security middleware before any business logic sees it.
package gateway

import "time"

// AuthMethod selects how an AuthenticateRequest proves identity.
type AuthMethod string

const (
	AuthMethodCredentials AuthMethod = "credentials"
	AuthMethodToken       AuthMethod = "token"
)

// AuthenticateRequest authenticates a connection by credentials or by a
// bearer access token.
type AuthenticateRequest struct {
	Method      AuthMethod `json:"method"`
	Username    string     `json:"username,omitempty"`
	Credential  string     `json:"credential,omitempty"`
	AccessToken string     `json:"access_token,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
}

// SessionInfo is the session view returned to clients.
type SessionInfo struct {
	SessionID                string     `json:"session_id"`
	OwnerAdminID             string     `json:"owner_admin_id"`
	CurrentOwnerConnectionID string     `json:"current_owner_connection_id,omitempty"`
	CreatedByDisplayName     string     `json:"created_by_display_name,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	EndedAt                  *time.Time `json:"ended_at,omitempty"`
}

// ErrorInfo is the typed error surface of every response.
type ErrorInfo struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// AuthenticateResponse is the result of an authentication attempt. On
// success OwnedSessions holds the reconnection-recovery result: exactly the
// non-ended sessions the identity owns.
type AuthenticateResponse struct {
	Success           bool          `json:"success"`
	AdminID           string        `json:"admin_id,omitempty"`
	AccessToken       string        `json:"access_token,omitempty"`
	AccessTokenExpiry time.Time     `json:"access_token_expiry,omitempty"`
	RefreshToken      string        `json:"refresh_token,omitempty"`
	OwnedSessions     []SessionInfo `json:"owned_sessions,omitempty"`
	AllSessions       []SessionInfo `json:"all_sessions,omitempty"`
	Permissions       []string      `json:"permissions,omitempty"`
	Error             *ErrorInfo    `json:"error,omitempty"`
}

// RefreshTokenRequest rotates a refresh token into a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	AdminID      string `json:"admin_id"`
}

// RefreshTokenResponse carries the rotated pair.
type RefreshTokenResponse struct {
	Success           bool       `json:"success"`
	AccessToken       string     `json:"access_token,omitempty"`
	AccessTokenExpiry time.Time  `json:"access_token_expiry,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	Error             *ErrorInfo `json:"error,omitempty"`
}

// AccessType classifies a session access.
type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
)

// SessionAccessRequest asks to act on a session.
type SessionAccessRequest struct {
	SessionID  string     `json:"session_id"`
	AccessType AccessType `json:"access_type"`
}

// SessionAccessResponse grants or denies the access. AccessType in the
// response may be downgraded to read for a non-owner.
type SessionAccessResponse struct {
	Success     bool         `json:"success"`
	AccessType  AccessType   `json:"access_type,omitempty"`
	SessionData *SessionInfo `json:"session_data,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
}

// ExpiryWarningNotification is pushed proactively before an access token
// expires so the client can refresh silently.
type ExpiryWarningNotification struct {
	AdminID       string        `json:"admin_id"`
	ExpiresAt     time.Time     `json:"expires_at"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// ReconnectionNotification is pushed once after a successful reconnection
// recovery.
type ReconnectionNotification struct {
	AdminID             string   `json:"admin_id"`
	RecoveredSessionIDs []string `json:"recovered_session_ids"`
}
