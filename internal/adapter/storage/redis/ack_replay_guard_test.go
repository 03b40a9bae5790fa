package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckReplayGuard_CheckAndSet_NewNonce(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewAckReplayGuard(client)
	ctx := context.Background()

	ok, err := guard.CheckAndSet(ctx, "delivery-1", "nonce-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "new nonce should return true")
}

func TestAckReplayGuard_CheckAndSet_ReplayNonce(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewAckReplayGuard(client)
	ctx := context.Background()

	ok, err := guard.CheckAndSet(ctx, "delivery-1", "nonce-xyz", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.CheckAndSet(ctx, "delivery-1", "nonce-xyz", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "replayed nonce should return false")
}

func TestAckReplayGuard_CheckAndSet_DifferentDeliveries(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewAckReplayGuard(client)
	ctx := context.Background()

	ok1, err := guard.CheckAndSet(ctx, "delivery-A", "nonce-123", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := guard.CheckAndSet(ctx, "delivery-B", "nonce-123", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok2, "same nonce for a different delivery should be valid")
}

func TestAckReplayGuard_CheckAndSet_ExpiredNonce(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	guard := NewAckReplayGuard(client)
	ctx := context.Background()

	ok, err := guard.CheckAndSet(ctx, "delivery-1", "nonce-expire", 1*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	s.FastForward(2 * time.Second)

	ok, err = guard.CheckAndSet(ctx, "delivery-1", "nonce-expire", 1*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired nonce should be accepted again")
}
