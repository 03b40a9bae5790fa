package redis

import (
	"context"
	"fmt"
	"time"

	"txrelay/pkg/crypto"

	goredis "github.com/redis/go-redis/v9"
)

// SigningSecretCache implements ports.SigningSecretCache, holding the
// subscription's plaintext secret encrypted at rest (AES-256-GCM) behind a
// refreshable TTL, generalized from the same SET-with-TTL idiom as
// AckReplayGuard and DeliveryDedupCache.
type SigningSecretCache struct {
	client *goredis.Client
	box    *crypto.AESGCMBox
	prefix string
}

// NewSigningSecretCache creates a new Redis-backed signing secret cache.
func NewSigningSecretCache(client *goredis.Client, box *crypto.AESGCMBox) *SigningSecretCache {
	return &SigningSecretCache{client: client, box: box, prefix: "webhook-secret:"}
}

func (c *SigningSecretCache) Put(ctx context.Context, subscriptionID string, secret string, ttl time.Duration) error {
	sealed, err := c.box.Seal(secret)
	if err != nil {
		return fmt.Errorf("sealing signing secret: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+subscriptionID, sealed, ttl).Err(); err != nil {
		return fmt.Errorf("caching signing secret: %w", err)
	}
	return nil
}

func (c *SigningSecretCache) Get(ctx context.Context, subscriptionID string) (string, bool, error) {
	sealed, err := c.client.Get(ctx, c.prefix+subscriptionID).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading signing secret: %w", err)
	}
	secret, err := c.box.Open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("opening signing secret: %w", err)
	}
	return secret, true, nil
}

func (c *SigningSecretCache) Delete(ctx context.Context, subscriptionID string) error {
	if err := c.client.Del(ctx, c.prefix+subscriptionID).Err(); err != nil {
		return fmt.Errorf("deleting signing secret: %w", err)
	}
	return nil
}
