package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DeliveryDedupCache implements ports.DeliveryDedupCache using Redis SET NX,
// the same primitive as AckReplayGuard applied to inbound delivery requests
// instead of inbound acks.
type DeliveryDedupCache struct {
	client *goredis.Client
	prefix string
}

func NewDeliveryDedupCache(client *goredis.Client) *DeliveryDedupCache {
	return &DeliveryDedupCache{client: client, prefix: "delivery-dedup:"}
}

func (c *DeliveryDedupCache) MarkIfAbsent(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	key := c.prefix + deliveryID
	result, err := c.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis delivery dedup check: %w", err)
	}
	return result == "OK", nil
}
