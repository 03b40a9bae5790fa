package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Lock implements ports.DistributedLock using Redis SET NX / DEL, giving
// the monitor's sweep jobs mutual exclusion across multiple deployed
// instances without a dedicated distributed-locking library.
type Lock struct {
	client *goredis.Client
	prefix string
	holder string
}

// NewLock creates a new Redis-backed distributed lock. holder identifies
// this process instance so Release never clears a lock it does not own.
func NewLock(client *goredis.Client, holder string) *Lock {
	return &Lock{client: client, prefix: "lock:", holder: holder}
}

func (l *Lock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := l.prefix + name
	result, err := l.client.SetArgs(ctx, key, l.holder, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return result == "OK", nil
}

func (l *Lock) Release(ctx context.Context, name string) error {
	key := l.prefix + name
	val, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil
		}
		return fmt.Errorf("redis lock release get: %w", err)
	}
	if val != l.holder {
		return nil
	}
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis lock release del: %w", err)
	}
	return nil
}
