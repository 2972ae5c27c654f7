// Package ratelimit provides in-memory sliding-window abuse counters:
// authentication attempts per username, operation throughput per identity,
// and concurrent-connection ceilings. Counters reset on restart; they exist
// for abuse mitigation, not accounting.
package ratelimit

import (
	"sync"
	"time"

	"broadcast-control-plane/backend/internal/apperrors"
)

// BreachAction selects what happens when an identity hits its connection
// ceiling.
type BreachAction string

const (
	BreachReject      BreachAction = "reject"
	BreachEvictOldest BreachAction = "evict_oldest"
)

// Config holds the limiter thresholds.
type Config struct {
	AuthAttempts   int           // failed logins tolerated per window per username
	AuthWindow     time.Duration // sliding window for auth attempts
	AuthLockout    time.Duration // lockout once attempts are exhausted
	OpsPerMinute   int           // sustained operations per identity per minute
	OpsBurst       int           // extra operations allowed above the sustained rate
	MaxConnections int           // concurrent connections per identity, 0 = unlimited
	OnBreach       BreachAction
}

// DefaultConfig mirrors the documented defaults: 5 auth attempts per 15
// minutes with a 30 minute lockout.
func DefaultConfig() Config {
	return Config{
		AuthAttempts:   5,
		AuthWindow:     15 * time.Minute,
		AuthLockout:    30 * time.Minute,
		OpsPerMinute:   60,
		OpsBurst:       20,
		MaxConnections: 5,
		OnBreach:       BreachReject,
	}
}

type authState struct {
	failures    []time.Time
	lockedUntil time.Time
}

type connEntry struct {
	id string
	at time.Time
}

// Limiter holds all counters. One instance serves the whole process.
type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	auth  map[string]*authState  // keyed by username
	ops   map[string][]time.Time // keyed by adminID
	conns map[string][]connEntry // keyed by adminID, oldest first
	nowF  func() time.Time
}

// New returns a Limiter with the given thresholds.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg,
		auth:  make(map[string]*authState),
		ops:   make(map[string][]time.Time),
		conns: make(map[string][]connEntry),
		nowF:  time.Now().UTC,
	}
}

// SetNow overrides the clock, for tests.
func (l *Limiter) SetNow(nowF func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowF = nowF
}

// AllowAuthAttempt reports whether another login attempt for username may
// proceed. During a lockout it returns a too_many_attempts error carrying the
// remaining wait.
func (l *Limiter) AllowAuthAttempt(username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	st, ok := l.auth[username]
	if !ok {
		return nil
	}
	if st.lockedUntil.After(now) {
		return apperrors.TooManyAttempts(st.lockedUntil.Sub(now))
	}
	st.failures = prune(st.failures, now.Add(-l.cfg.AuthWindow))
	if len(st.failures) >= l.cfg.AuthAttempts {
		st.lockedUntil = now.Add(l.cfg.AuthLockout)
		return apperrors.TooManyAttempts(l.cfg.AuthLockout)
	}
	return nil
}

// RecordAuthFailure counts a failed login for username. The attempt that
// exhausts the budget starts the lockout, so the next call to
// AllowAuthAttempt reports retryAfter.
func (l *Limiter) RecordAuthFailure(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	st, ok := l.auth[username]
	if !ok {
		st = &authState{}
		l.auth[username] = st
	}
	st.failures = append(prune(st.failures, now.Add(-l.cfg.AuthWindow)), now)
	if len(st.failures) >= l.cfg.AuthAttempts {
		st.lockedUntil = now.Add(l.cfg.AuthLockout)
	}
}

// RecordAuthSuccess clears the failure history for username.
func (l *Limiter) RecordAuthSuccess(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.auth, username)
}

// AllowOperation counts one operation for adminID against the per-minute
// budget plus burst. Over budget it returns too_many_attempts with the wait
// until the oldest counted operation leaves the window.
func (l *Limiter) AllowOperation(adminID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowF()
	window := now.Add(-time.Minute)
	stamps := prune(l.ops[adminID], window)
	limit := l.cfg.OpsPerMinute + l.cfg.OpsBurst
	if len(stamps) >= limit {
		l.ops[adminID] = stamps
		retry := stamps[0].Add(time.Minute).Sub(now)
		return apperrors.TooManyAttempts(retry)
	}
	l.ops[adminID] = append(stamps, now)
	return nil
}

// RegisterConnection admits connectionID for adminID against the ceiling.
// Returns the id of an evicted connection when the breach action is
// evict_oldest, or a too_many_attempts error when it is reject.
func (l *Limiter) RegisterConnection(adminID, connectionID string) (evicted string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.conns[adminID]
	if l.cfg.MaxConnections > 0 && len(entries) >= l.cfg.MaxConnections {
		if l.cfg.OnBreach == BreachEvictOldest {
			evicted = entries[0].id
			entries = entries[1:]
		} else {
			return "", apperrors.TooManyAttempts(0)
		}
	}
	l.conns[adminID] = append(entries, connEntry{id: connectionID, at: l.nowF()})
	return evicted, nil
}

// UnregisterConnection forgets connectionID for adminID.
func (l *Limiter) UnregisterConnection(adminID, connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.conns[adminID]
	for i, e := range entries {
		if e.id == connectionID {
			l.conns[adminID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(l.conns[adminID]) == 0 {
		delete(l.conns, adminID)
	}
}

// ConnectionCount returns the number of admitted connections for adminID.
func (l *Limiter) ConnectionCount(adminID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns[adminID])
}

// prune drops timestamps at or before cutoff. Slices are append-ordered, so
// the first retained index ends the scan.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
