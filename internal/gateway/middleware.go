package gateway

import (
	"context"

	"broadcast-control-plane/backend/internal/admin/manager"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/ratelimit"
)

// RequestInfo describes a request to the middleware chain.
type RequestInfo struct {
	// Operation is the operation class, for rate limiting.
	Operation string
	// Public marks requests that need no prior authentication.
	Public bool
	// SessionID is set for session-scoped requests.
	SessionID string
	// Access is read or write, when SessionID is set.
	Access authz.Operation
	// Decision is filled by the authorization stage.
	Decision *authz.Decision
}

// Handler is the terminal business-logic step of a chain.
type Handler func(ctx context.Context, req interface{}) (interface{}, error)

// Interceptor wraps a Handler. Returning an error short-circuits: later
// stages and the handler never run.
type Interceptor func(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error)

// Chain composes interceptors left to right: the first one given is the
// outermost.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
		wrapped := next
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic := interceptors[i]
			inner := wrapped
			wrapped = func(ctx context.Context, req interface{}) (interface{}, error) {
				return ic(ctx, req, info, inner)
			}
		}
		return wrapped(ctx, req)
	}
}

// Middleware is the security gate every privileged request passes through,
// in strict order: block-list, authentication, session authorization, rate
// limit. Any failing stage short-circuits with a typed error.
type Middleware struct {
	blocklist *Blocklist
	manager   *manager.Manager
	guard     *authz.Guard
	limiter   *ratelimit.Limiter
}

// NewMiddleware wires the four stages.
func NewMiddleware(blocklist *Blocklist, m *manager.Manager, guard *authz.Guard, limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{blocklist: blocklist, manager: m, guard: guard, limiter: limiter}
}

// Gate returns the composed chain.
func (mw *Middleware) Gate() Interceptor {
	return Chain(mw.BlocklistStage, mw.AuthStage, mw.AuthzStage, mw.RateLimitStage)
}

// BlocklistStage rejects blocked connections before anything else runs.
func (mw *Middleware) BlocklistStage(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
	connID, ok := GetConnectionID(ctx)
	if !ok {
		return nil, apperrors.Unauthenticated()
	}
	if mw.blocklist.IsBlocked(connID) {
		return nil, apperrors.Blocked()
	}
	return next(ctx, req)
}

// AuthStage resolves the connection to its bound identity and stores the
// admin id in context. Public operations pass through unbound.
func (mw *Middleware) AuthStage(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
	connID, _ := GetConnectionID(ctx)
	adminID, bound := mw.manager.AdminIDFor(connID)
	if !bound {
		if info.Public {
			return next(ctx, req)
		}
		return nil, apperrors.Unauthenticated()
	}
	return next(WithAdminID(ctx, adminID), req)
}

// AuthzStage verifies session ownership through the guard for
// session-scoped requests and records the decision on info.
func (mw *Middleware) AuthzStage(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
	if info.SessionID == "" {
		return next(ctx, req)
	}
	adminID, _ := GetAdminID(ctx)
	decision, err := mw.guard.Verify(ctx, adminID, info.SessionID, info.Access)
	if err != nil {
		return nil, err
	}
	info.Decision = &decision
	return next(ctx, req)
}

// RateLimitStage counts the operation against the identity's budget.
// Unauthenticated public requests are counted per connection instead.
func (mw *Middleware) RateLimitStage(ctx context.Context, req interface{}, info *RequestInfo, next Handler) (interface{}, error) {
	subject, ok := GetAdminID(ctx)
	if !ok {
		subject, _ = GetConnectionID(ctx)
	}
	if err := mw.limiter.AllowOperation(subject); err != nil {
		return nil, err
	}
	return next(ctx, req)
}
