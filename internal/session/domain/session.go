// Package domain holds the broadcast-session record and its state
// transitions. Sessions are runtime objects: they live in memory and do not
// survive a restart, unlike the identities that own them.
package domain

import (
	"time"
)

// Session is one live broadcast session and its ownership state.
type Session struct {
	ID                       string
	OwnerAdminID             string
	CurrentOwnerConnectionID string // empty while the owner is disconnected
	CreatedByDisplayName     string
	CreatedAt                time.Time
	EndedAt                  *time.Time // nil while running
	OrphanedAt               *time.Time // nil unless the owner identity was deleted
	OrphanDeadline           *time.Time // force-end time for an orphaned session
}

// Active reports whether the session is still running.
func (s *Session) Active() bool { return s.EndedAt == nil }

// Orphaned reports whether the owning identity was deleted while the session
// was running.
func (s *Session) Orphaned() bool { return s.OrphanedAt != nil }

// Clone returns a deep copy. Nil-safe.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.EndedAt = cloneTime(s.EndedAt)
	out.OrphanedAt = cloneTime(s.OrphanedAt)
	out.OrphanDeadline = cloneTime(s.OrphanDeadline)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
