package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"broadcast-control-plane/backend/internal/admin/domain"
	"broadcast-control-plane/backend/internal/admin/manager"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/ratelimit"
	"broadcast-control-plane/backend/internal/security"
	sessiondomain "broadcast-control-plane/backend/internal/session/domain"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
	"broadcast-control-plane/backend/internal/telemetry"
)

// Gateway composes the manager, token authority, guard, and rate limiter
// behind the middleware gate. It implements every boundary operation the
// transport exposes.
type Gateway struct {
	manager   *manager.Manager
	authority *security.Authority
	sessions  sessionrepo.Repository
	guard     *authz.Guard
	limiter   *ratelimit.Limiter
	blocklist *Blocklist
	registry  *Registry
	emitter   telemetry.EventEmitter
	gate      Interceptor
	watcher   *ExpiryWatcher
	nowF      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithExpiryWarningLead sets how far before access-token expiry the warning
// notification is pushed.
func WithExpiryWarningLead(d time.Duration) Option {
	return func(g *Gateway) { g.watcher = NewExpiryWatcher(g, d) }
}

// New wires the gateway. emitter may be nil.
func New(m *manager.Manager, authority *security.Authority, sessions sessionrepo.Repository, guard *authz.Guard, limiter *ratelimit.Limiter, emitter telemetry.EventEmitter, opts ...Option) *Gateway {
	blocklist := NewBlocklist()
	g := &Gateway{
		manager:   m,
		authority: authority,
		sessions:  sessions,
		guard:     guard,
		limiter:   limiter,
		blocklist: blocklist,
		registry:  NewRegistry(),
		emitter:   emitter,
		gate:      NewMiddleware(blocklist, m, guard, limiter).Gate(),
		nowF:      func() time.Time { return time.Now().UTC() },
	}
	g.watcher = NewExpiryWatcher(g, defaultExpiryWarningLead)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Blocklist exposes the connection block-list for administrative use.
func (g *Gateway) Blocklist() *Blocklist { return g.blocklist }

// Watcher exposes the expiry watcher so the server can run it.
func (g *Gateway) Watcher() *ExpiryWatcher { return g.watcher }

// Authenticate authenticates conn by credentials or token, admits it against
// the connection ceiling, binds it to its identity, and returns the token
// pair plus the reconnection-recovery result. A recovery that returns
// sessions also pushes one ReconnectionNotification to the connection.
func (g *Gateway) Authenticate(ctx context.Context, conn Conn, req *AuthenticateRequest) *AuthenticateResponse {
	if g.blocklist.IsBlocked(conn.ID()) {
		return &AuthenticateResponse{Error: errorInfo(apperrors.Blocked())}
	}

	var ident *domain.Identity
	var recovered []*sessiondomain.Session
	var err error
	switch req.Method {
	case AuthMethodCredentials:
		if err := g.limiter.AllowAuthAttempt(req.Username); err != nil {
			return &AuthenticateResponse{Error: errorInfo(err)}
		}
		ident, recovered, err = g.manager.AuthenticateCredentials(ctx, req.Username, req.Credential, conn.ID())
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindInvalidCredentials {
				g.limiter.RecordAuthFailure(req.Username)
			}
			g.emit(ctx, &telemetry.Event{ConnectionID: conn.ID(), EventType: telemetry.EventAuthFailed, Source: "gateway"})
			return &AuthenticateResponse{Error: errorInfo(err)}
		}
		g.limiter.RecordAuthSuccess(req.Username)
	case AuthMethodToken:
		ident, recovered, err = g.manager.AuthenticateToken(ctx, req.AccessToken, conn.ID())
		if err != nil {
			g.emit(ctx, &telemetry.Event{ConnectionID: conn.ID(), EventType: telemetry.EventAuthFailed, Source: "gateway"})
			return &AuthenticateResponse{Error: errorInfo(mapValidation(err))}
		}
	default:
		return &AuthenticateResponse{Error: errorInfo(apperrors.InvalidCredentials())}
	}

	evicted, err := g.limiter.RegisterConnection(ident.AdminID, conn.ID())
	if err != nil {
		// Over the ceiling: undo the binding the manager just made.
		_ = g.manager.UnregisterConnection(ctx, conn.ID())
		return &AuthenticateResponse{Error: errorInfo(err)}
	}
	if evicted != "" {
		g.dropConnection(ctx, ident.AdminID, evicted)
	}
	g.registry.Add(conn)

	accessToken, accessJTI, accessExpiry, err := g.authority.Provider().IssueAccess(ident.AdminID, ident.Username, ident.TokenVersion)
	if err != nil {
		return &AuthenticateResponse{Error: errorInfo(err)}
	}
	refreshToken, refreshJTI, refreshExpiry, err := g.authority.Provider().IssueRefresh(ident.AdminID, ident.Username, ident.TokenVersion)
	if err != nil {
		return &AuthenticateResponse{Error: errorInfo(err)}
	}
	if err := g.manager.RecordRefreshToken(ctx, ident.AdminID, refreshJTI, refreshExpiry); err != nil {
		return &AuthenticateResponse{Error: errorInfo(err)}
	}
	g.watcher.Track(ident.AdminID, accessJTI, accessExpiry)

	if len(recovered) > 0 {
		ids := make([]string, len(recovered))
		for i, s := range recovered {
			ids[i] = s.ID
		}
		g.push(ctx, conn, &ReconnectionNotification{AdminID: ident.AdminID, RecoveredSessionIDs: ids})
		g.emit(ctx, &telemetry.Event{AdminID: ident.AdminID, ConnectionID: conn.ID(), EventType: telemetry.EventReconnected, Source: "gateway"})
	} else {
		g.emit(ctx, &telemetry.Event{AdminID: ident.AdminID, ConnectionID: conn.ID(), EventType: telemetry.EventAuthenticated, Source: "gateway"})
	}

	all, err := g.sessions.List(ctx)
	if err != nil {
		return &AuthenticateResponse{Error: errorInfo(err)}
	}
	return &AuthenticateResponse{
		Success:           true,
		AdminID:           ident.AdminID,
		AccessToken:       accessToken,
		AccessTokenExpiry: accessExpiry,
		RefreshToken:      refreshToken,
		OwnedSessions:     sessionInfos(recovered),
		AllSessions:       sessionInfos(activeOnly(all)),
		Permissions:       permissionsFor(ident),
	}
}

// Refresh rotates a refresh token into a new pair. Replay of an
// already-rotated token revokes every token for the identity.
func (g *Gateway) Refresh(ctx context.Context, req *RefreshTokenRequest) *RefreshTokenResponse {
	claims, err := g.authority.ValidateRefresh(ctx, req.RefreshToken)
	if err != nil {
		return &RefreshTokenResponse{Error: errorInfo(mapValidation(err))}
	}
	if req.AdminID != "" && req.AdminID != claims.AdminID {
		return &RefreshTokenResponse{Error: errorInfo(apperrors.TokenInvalid(nil))}
	}

	accessToken, accessJTI, accessExpiry, err := g.authority.Provider().IssueAccess(claims.AdminID, claims.Username, claims.TokenVersion)
	if err != nil {
		return &RefreshTokenResponse{Error: errorInfo(err)}
	}
	refreshToken, refreshJTI, refreshExpiry, err := g.authority.Provider().IssueRefresh(claims.AdminID, claims.Username, claims.TokenVersion)
	if err != nil {
		return &RefreshTokenResponse{Error: errorInfo(err)}
	}
	if err := g.manager.RotateRefreshToken(ctx, claims.AdminID, claims.JTI, refreshJTI, refreshExpiry); err != nil {
		g.emit(ctx, &telemetry.Event{AdminID: claims.AdminID, EventType: telemetry.EventTokenRevoked, Source: "gateway"})
		return &RefreshTokenResponse{Error: errorInfo(err)}
	}
	g.watcher.Track(claims.AdminID, accessJTI, accessExpiry)
	g.emit(ctx, &telemetry.Event{AdminID: claims.AdminID, EventType: telemetry.EventTokenRefreshed, Source: "gateway"})
	return &RefreshTokenResponse{
		Success:           true,
		AccessToken:       accessToken,
		AccessTokenExpiry: accessExpiry,
		RefreshToken:      refreshToken,
	}
}

// SessionAccess gates a read or write on a session through the full
// middleware chain. Non-owner reads succeed but are downgraded to read-only.
func (g *Gateway) SessionAccess(ctx context.Context, connectionID string, req *SessionAccessRequest) *SessionAccessResponse {
	ctx = WithConnectionID(ctx, connectionID)
	info := &RequestInfo{
		Operation: "session_access",
		SessionID: req.SessionID,
		Access:    accessOperation(req.AccessType),
	}
	result, err := g.gate(ctx, req, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		s, err := g.sessions.GetByID(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, apperrors.SessionNotFound(req.SessionID)
		}
		return s, nil
	})
	if err != nil {
		return &SessionAccessResponse{Error: errorInfo(err)}
	}

	s := result.(*sessiondomain.Session)
	grantedAccess := req.AccessType
	if info.Decision != nil && info.Decision.ReadOnly {
		grantedAccess = AccessRead
	}
	data := sessionInfo(s)
	return &SessionAccessResponse{
		Success:     true,
		AccessType:  grantedAccess,
		SessionData: &data,
	}
}

// CreateSession creates a session owned by the connection's identity, gated
// by the middleware.
func (g *Gateway) CreateSession(ctx context.Context, connectionID, displayName string) (*SessionInfo, error) {
	ctx = WithConnectionID(ctx, connectionID)
	info := &RequestInfo{Operation: "session_create"}
	result, err := g.gate(ctx, nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		adminID, _ := GetAdminID(ctx)
		s, err := g.manager.CreateOwnedSession(ctx, adminID, connectionID, displayName)
		if err != nil {
			return nil, err
		}
		g.emit(ctx, &telemetry.Event{AdminID: adminID, ConnectionID: connectionID, SessionID: s.ID, EventType: telemetry.EventSessionCreated, Source: "gateway"})
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	out := sessionInfo(result.(*sessiondomain.Session))
	return &out, nil
}

// EndSession ends a session owned by the connection's identity, gated by the
// middleware including the ownership guard.
func (g *Gateway) EndSession(ctx context.Context, connectionID, sessionID string) error {
	ctx = WithConnectionID(ctx, connectionID)
	info := &RequestInfo{
		Operation: "session_end",
		SessionID: sessionID,
		Access:    authz.OperationWrite,
	}
	_, err := g.gate(ctx, nil, info, func(ctx context.Context, _ interface{}) (interface{}, error) {
		adminID, _ := GetAdminID(ctx)
		s, err := g.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, apperrors.SessionNotFound(sessionID)
		}
		if err := g.manager.EndOwnedSession(ctx, s.OwnerAdminID, sessionID); err != nil {
			return nil, err
		}
		g.emit(ctx, &telemetry.Event{AdminID: adminID, SessionID: sessionID, EventType: telemetry.EventSessionEnded, Source: "gateway"})
		return nil, nil
	})
	return err
}

// Revoke revokes a single presented token.
func (g *Gateway) Revoke(ctx context.Context, token, reason string) error {
	if err := g.authority.Revoke(ctx, token, reason); err != nil {
		return mapValidation(err)
	}
	g.emit(ctx, &telemetry.Event{EventType: telemetry.EventTokenRevoked, Source: "gateway"})
	return nil
}

// Disconnect tears down a connection: registry, rate-limiter slot, and the
// manager binding. Ownership persists as owner-offline.
func (g *Gateway) Disconnect(ctx context.Context, connectionID string) error {
	adminID, bound := g.manager.AdminIDFor(connectionID)
	g.registry.Remove(connectionID)
	if bound {
		g.limiter.UnregisterConnection(adminID, connectionID)
	}
	if err := g.manager.UnregisterConnection(ctx, connectionID); err != nil {
		return err
	}
	if bound {
		g.emit(ctx, &telemetry.Event{AdminID: adminID, ConnectionID: connectionID, EventType: telemetry.EventDisconnected, Source: "gateway"})
	}
	return nil
}

// dropConnection evicts a connection that lost its ceiling slot.
func (g *Gateway) dropConnection(ctx context.Context, adminID, connectionID string) {
	g.registry.Remove(connectionID)
	g.limiter.UnregisterConnection(adminID, connectionID)
	if err := g.manager.UnregisterConnection(ctx, connectionID); err != nil {
		log.Printf("gateway: evict %s: %v", connectionID, err)
	}
}

// push sends a notification, logging failures. Notification delivery is
// best-effort; the transport retries on its own terms.
func (g *Gateway) push(ctx context.Context, conn Conn, notification interface{}) {
	if err := conn.Send(ctx, notification); err != nil {
		log.Printf("gateway: push to %s: %v", conn.ID(), err)
	}
}

func (g *Gateway) emit(ctx context.Context, event *telemetry.Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = g.nowF()
	}
	telemetry.EmitAsync(g.emitter, ctx, event)
}

// notifyIdentity pushes a notification to every live connection of adminID.
func (g *Gateway) notifyIdentity(ctx context.Context, adminID string, notification interface{}) {
	for _, conn := range g.registry.Snapshot(g.manager.ConnectionsOf(adminID)) {
		g.push(ctx, conn, notification)
	}
}

func accessOperation(t AccessType) authz.Operation {
	if t == AccessWrite {
		return authz.OperationWrite
	}
	return authz.OperationRead
}

func activeOnly(all []*sessiondomain.Session) []*sessiondomain.Session {
	out := all[:0:0]
	for _, s := range all {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

func sessionInfo(s *sessiondomain.Session) SessionInfo {
	return SessionInfo{
		SessionID:                s.ID,
		OwnerAdminID:             s.OwnerAdminID,
		CurrentOwnerConnectionID: s.CurrentOwnerConnectionID,
		CreatedByDisplayName:     s.CreatedByDisplayName,
		CreatedAt:                s.CreatedAt,
		EndedAt:                  s.EndedAt,
	}
}

func sessionInfos(sessions []*sessiondomain.Session) []SessionInfo {
	out := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = sessionInfo(s)
	}
	return out
}

func permissionsFor(ident *domain.Identity) []string {
	perms := []string{"session:create", "session:read"}
	if ident.IsSystem() {
		perms = append(perms, "session:manage_orphans", "identity:delete")
	}
	return perms
}

// errorInfo converts any error into the boundary error surface.
func errorInfo(err error) *ErrorInfo {
	kind := apperrors.KindOf(err)
	info := &ErrorInfo{Kind: string(kind), Message: apperrors.UserMessage(kind)}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		info.RetryAfterSeconds = int64(appErr.RetryAfter.Seconds())
	}
	return info
}

// mapValidation converts token validation reasons into the boundary error
// taxonomy.
func mapValidation(err error) error {
	switch security.ReasonOf(err) {
	case security.ReasonExpired:
		return apperrors.TokenExpired()
	case security.ReasonRevoked, security.ReasonVersionMismatch:
		return apperrors.TokenRevoked()
	case "":
		return err
	default:
		return apperrors.TokenInvalid(err)
	}
}
