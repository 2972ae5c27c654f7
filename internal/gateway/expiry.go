package gateway

import (
	"context"
	"sync"
	"time"
)

const defaultExpiryWarningLead = 5 * time.Minute

// ExpiryWatcher pushes ExpiryWarningNotification to every live connection of
// an identity a fixed lead before its newest access token expires, so
// clients can refresh silently instead of failing a request.
type ExpiryWatcher struct {
	gateway *Gateway
	lead    time.Duration

	mu      sync.Mutex
	tracked map[string]*trackedToken // adminID -> newest access token
	nowF    func() time.Time
}

type trackedToken struct {
	jti       string
	expiresAt time.Time
	warned    bool
}

// NewExpiryWatcher returns a watcher. lead <= 0 falls back to the 5 minute
// default.
func NewExpiryWatcher(g *Gateway, lead time.Duration) *ExpiryWatcher {
	if lead <= 0 {
		lead = defaultExpiryWarningLead
	}
	return &ExpiryWatcher{
		gateway: g,
		lead:    lead,
		tracked: make(map[string]*trackedToken),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock, for tests.
func (w *ExpiryWatcher) SetNow(nowF func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nowF = nowF
}

// Track records the newest access token for adminID. Only the most recent
// token is watched: a refresh supersedes the previous warning cycle.
func (w *ExpiryWatcher) Track(adminID, jti string, expiresAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracked[adminID] = &trackedToken{jti: jti, expiresAt: expiresAt}
}

// Forget stops watching adminID.
func (w *ExpiryWatcher) Forget(adminID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tracked, adminID)
}

// Check pushes warnings for tokens inside the lead window and drops tokens
// already expired. One warning per tracked token.
func (w *ExpiryWatcher) Check(ctx context.Context) {
	now := w.nowF()
	type due struct {
		adminID   string
		expiresAt time.Time
	}
	var pending []due

	w.mu.Lock()
	for adminID, tok := range w.tracked {
		if !tok.expiresAt.After(now) {
			delete(w.tracked, adminID)
			continue
		}
		if !tok.warned && tok.expiresAt.Sub(now) <= w.lead {
			tok.warned = true
			pending = append(pending, due{adminID: adminID, expiresAt: tok.expiresAt})
		}
	}
	w.mu.Unlock()

	for _, d := range pending {
		w.gateway.notifyIdentity(ctx, d.adminID, &ExpiryWarningNotification{
			AdminID:       d.adminID,
			ExpiresAt:     d.expiresAt,
			TimeRemaining: d.expiresAt.Sub(now),
		})
	}
}

// RunEvery checks on a fixed interval until ctx is cancelled.
func (w *ExpiryWatcher) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
