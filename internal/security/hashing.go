package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies admin credentials with bcrypt. Plaintext
// credentials must never be logged or persisted.
type Hasher struct {
	Cost int
}

// NewHasher clamps cost into bcrypt's valid range. Zero or negative cost
// falls back to the bcrypt default.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of the credential, suitable for storing on the
// identity record.
func (h *Hasher) Hash(credential []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(credential, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies credential against the stored hash in constant time.
// Returns nil on match.
func (h *Hasher) Compare(hash string, credential []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), credential)
}
