package service

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// UUIDGenerator implements ports.IDGenerator using google/uuid v4
// identifiers and random hex nonces, generalizing the teacher's scattered
// uuid.New() call sites into one injectable seam.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new UUIDGenerator.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NewUUID returns a new random (v4) UUID.
func (g *UUIDGenerator) NewUUID() uuid.UUID {
	return uuid.New()
}

// NewNonce returns a random 16-byte hex-encoded nonce, used in the
// X-Webhook-Timestamp header to guard against replay.
func (g *UUIDGenerator) NewNonce() string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw) // crypto/rand.Read never returns an error on supported platforms
	return hex.EncodeToString(raw)
}
