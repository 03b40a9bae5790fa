package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AckReplayGuard implements ports.AckReplayGuard using Redis SET NX,
// generalized from the teacher's per-merchant nonce replay check to the
// webhook acknowledge callback: a downstream system POSTs an ack for a
// delivery id carrying a nonce, and a nonce reused within the TTL window
// is rejected as a replay.
type AckReplayGuard struct {
	client *goredis.Client
	prefix string
}

// NewAckReplayGuard creates a new Redis-backed ack replay guard.
func NewAckReplayGuard(client *goredis.Client) *AckReplayGuard {
	return &AckReplayGuard{
		client: client,
		prefix: "ack-nonce:",
	}
}

// CheckAndSet atomically checks whether nonce was already consumed for
// deliveryID, setting it if not. Returns true if the nonce is new (the ack
// should be processed), false if it was already used (replay, drop it).
func (s *AckReplayGuard) CheckAndSet(ctx context.Context, deliveryID string, nonce string, ttl time.Duration) (bool, error) {
	key := s.prefix + deliveryID + ":" + nonce
	result, err := s.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis ack nonce check: %w", err)
	}
	return result == "OK", nil
}
