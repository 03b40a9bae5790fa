package ports

import (
	"context"
	"time"
)

// HealthChecker reports connectivity to a dependency, aggregated by the
// health handler into the overall readiness response.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

// AckReplayGuard rejects webhook-acknowledge callbacks that replay a nonce
// already consumed for the same delivery within its validity window.
type AckReplayGuard interface {
	// CheckAndSet returns true when nonce is new for deliveryID (the ack
	// should be processed) and false when it was already consumed.
	CheckAndSet(ctx context.Context, deliveryID string, nonce string, ttl time.Duration) (bool, error)
}

// DeliveryDedupCache short-circuits duplicate delivery attempts raised by
// redelivered event-bus messages before they reach the database.
type DeliveryDedupCache interface {
	// MarkIfAbsent returns true if deliveryID was not already marked within
	// ttl, marking it as a side effect.
	MarkIfAbsent(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)
}

// DistributedLock provides a best-effort mutual-exclusion lock so only one
// instance of a multi-instance deployment runs a given sweep at a time.
type DistributedLock interface {
	// TryAcquire returns true if the lock was acquired, false if another
	// holder already has it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// SigningSecretCache holds the plaintext webhook secret in a side channel
// the delivery engine can read at signing time. The subscriptions table
// persists only the secret's hash (see domain.WebhookSubscription), so the
// plaintext has to live somewhere reachable for as long as the subscription
// is active; a TTL'd, encrypted-at-rest cache entry is the holding place,
// never the primary store. Put sets the TTL; Get does not extend it.
type SigningSecretCache interface {
	// Put stores secret for subscriptionID, refreshing ttl.
	Put(ctx context.Context, subscriptionID string, secret string, ttl time.Duration) error
	// Get returns the cached secret and true, or "", false if absent or
	// expired. A miss means the caller must fall back to requesting the
	// subscriber re-register their secret; it does not mean the
	// subscription itself is gone.
	Get(ctx context.Context, subscriptionID string) (string, bool, error)
	// Delete removes the cached secret, e.g. on subscription deletion.
	Delete(ctx context.Context, subscriptionID string) error
}
