// Package authz decides whether an authenticated identity may act on a
// broadcast session. Decisions fail closed: any evaluation problem denies.
package authz

import "context"

// Operation classifies a session action for ownership checks.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// AccessInput is everything the policy sees for one decision.
type AccessInput struct {
	AdminID         string
	OwnerAdminID    string
	Operation       Operation
	SessionOrphaned bool
	SystemIdentity  bool
	Authenticated   bool
}

// Decision is the policy outcome. ReadOnly marks an allowed read by a
// non-owner, so the caller can tag the response.
type Decision struct {
	Allowed  bool
	ReadOnly bool
	Reason   string
}

// Evaluator evaluates session-access policy.
type Evaluator interface {
	EvaluateAccess(ctx context.Context, input AccessInput) (Decision, error)
}
