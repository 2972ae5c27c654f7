// Package telemetry defines the control-plane event stream: authentications,
// reconnection recoveries, session lifecycle changes, and sweep actions.
// Emission is best-effort; callers log and ignore errors.
package telemetry

import (
	"context"
	"time"
)

// Event is one control-plane occurrence.
type Event struct {
	AdminID      string
	ConnectionID string
	SessionID    string
	EventType    string
	Source       string
	Metadata     []byte // JSON
	CreatedAt    time.Time
}

// Well-known event types.
const (
	EventAuthenticated     = "admin.authenticated"
	EventAuthFailed        = "admin.auth_failed"
	EventTokenRefreshed    = "admin.token_refreshed"
	EventTokenRevoked      = "admin.token_revoked"
	EventReconnected       = "admin.reconnected"
	EventDisconnected      = "admin.disconnected"
	EventSessionCreated    = "session.created"
	EventSessionEnded      = "session.ended"
	EventSessionOrphaned   = "session.orphaned"
	EventSessionReassigned = "session.reassigned"
	EventIdentitySwept     = "identity.swept"
)

// EventEmitter emits control-plane events, e.g. to OTel Logs.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
