package gateway

import "context"

type contextKey struct{ name string }

var (
	adminIDKey      = contextKey{"admin_id"}
	connectionIDKey = contextKey{"connection_id"}
)

// WithConnectionID returns a context carrying the transport connection id.
// Set by the gateway before the middleware chain runs.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// GetConnectionID returns the connection id and true if set.
func GetConnectionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(connectionIDKey).(string)
	return v, ok
}

// WithAdminID returns a context carrying the authenticated admin id. Set by
// the authentication stage for downstream stages and handlers.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDKey, adminID)
}

// GetAdminID returns the admin id and true if set.
func GetAdminID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(adminIDKey).(string)
	return v, ok
}
