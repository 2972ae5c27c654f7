package gateway

import "sync"

// Blocklist holds administratively blocked connection ids. A blocked
// connection fails the very first middleware stage; nothing downstream ever
// sees its requests.
type Blocklist struct {
	mu      sync.Mutex
	blocked map[string]struct{}
}

// NewBlocklist returns an empty block-list.
func NewBlocklist() *Blocklist {
	return &Blocklist{blocked: make(map[string]struct{})}
}

// Block adds connectionID to the list.
func (b *Blocklist) Block(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[connectionID] = struct{}{}
}

// Unblock removes connectionID from the list.
func (b *Blocklist) Unblock(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, connectionID)
}

// IsBlocked reports whether connectionID is blocked.
func (b *Blocklist) IsBlocked(connectionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[connectionID]
	return ok
}
