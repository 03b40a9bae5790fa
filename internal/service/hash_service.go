package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptSecretHasher implements ports.SecretHasher for webhook subscription
// secrets at rest. bcrypt's own work factor stands in for the spec's
// "bcrypt-equivalent work factor" requirement.
type BcryptSecretHasher struct {
	cost int
}

// NewBcryptSecretHasher creates a hasher at the given bcrypt cost. Pass 0
// to use bcrypt.DefaultCost.
func NewBcryptSecretHasher(cost int) *BcryptSecretHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptSecretHasher{cost: cost}
}

// Hash produces a bcrypt hash of secret, encoding the salt and cost in the
// returned string per bcrypt's usual format.
func (h *BcryptSecretHasher) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether secret matches the given bcrypt hash using
// bcrypt's own constant-time comparison.
func (h *BcryptSecretHasher) Verify(secret string, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err == nil {
		return true, nil
	}
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	return false, fmt.Errorf("verifying secret: %w", err)
}
