package security

import (
	"encoding/json"
	"sync"
	"time"

	"broadcast-control-plane/backend/internal/storage"
)

// revocationEntry is one revoked token id, kept until the token would have
// expired on its own.
type revocationEntry struct {
	JTI       string    `json:"jti"`
	AdminID   string    `json:"admin_id"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type revocationSnapshot struct {
	SchemaVersion int               `json:"schema_version"`
	Entries       []revocationEntry `json:"entries"`
}

// Blacklist is the token revocation set. Lookups are in-memory; every
// mutation is snapshotted to disk so revocations survive restarts. With an
// empty path it runs memory-only.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]revocationEntry
	path    string
	nowF    func() time.Time
}

// NewBlacklist loads the snapshot at path if one exists, dropping entries
// whose tokens have already expired. A corrupt snapshot starts empty rather
// than failing: a lost revocation list only shortens revocations to the
// token's natural TTL.
func NewBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{
		entries: make(map[string]revocationEntry),
		path:    path,
		nowF:    func() time.Time { return time.Now().UTC() },
	}
	if path == "" {
		return b, nil
	}
	var snap revocationSnapshot
	data, err := storage.ReadRecord(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &snap); err == nil {
			now := b.nowF()
			for _, e := range snap.Entries {
				if e.ExpiresAt.After(now) {
					b.entries[e.JTI] = e
				}
			}
		}
	}
	return b, nil
}

// SetNow overrides the clock, for expiry tests.
func (b *Blacklist) SetNow(nowF func() time.Time) { b.nowF = nowF }

// Add revokes jti until expiresAt.
func (b *Blacklist) Add(jti, adminID, reason string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = revocationEntry{
		JTI:       jti,
		AdminID:   adminID,
		Reason:    reason,
		RevokedAt: b.nowF(),
		ExpiresAt: expiresAt,
	}
	return b.persistLocked()
}

// Contains reports whether jti is revoked and not yet naturally expired.
func (b *Blacklist) Contains(jti string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[jti]
	return ok && e.ExpiresAt.After(b.nowF())
}

// Prune drops entries expired as of now and returns how many were removed.
func (b *Blacklist) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for jti, e := range b.entries {
		if !e.ExpiresAt.After(now) {
			delete(b.entries, jti)
			removed++
		}
	}
	if removed > 0 {
		_ = b.persistLocked()
	}
	return removed
}

// Len returns the number of live entries.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Blacklist) persistLocked() error {
	if b.path == "" {
		return nil
	}
	snap := revocationSnapshot{SchemaVersion: 1, Entries: make([]revocationEntry, 0, len(b.entries))}
	for _, e := range b.entries {
		snap.Entries = append(snap.Entries, e)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(b.path, data)
}
