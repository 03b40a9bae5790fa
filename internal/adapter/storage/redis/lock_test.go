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

func TestLock_TryAcquire_ExclusiveAmongHolders(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lockA := NewLock(client, "instance-a")
	lockB := NewLock(client, "instance-b")
	ctx := context.Background()

	ok, err := lockA.TryAcquire(ctx, "monitor-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lockB.TryAcquire(ctx, "monitor-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")
}

func TestLock_Release_OnlyByOwner(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lockA := NewLock(client, "instance-a")
	lockB := NewLock(client, "instance-b")
	ctx := context.Background()

	ok, err := lockA.TryAcquire(ctx, "monitor-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lockB.Release(ctx, "monitor-sweep"))

	ok, err = lockB.TryAcquire(ctx, "monitor-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "non-owner release must not clear the lock")

	require.NoError(t, lockA.Release(ctx, "monitor-sweep"))

	ok, err = lockB.TryAcquire(ctx, "monitor-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner release must clear the lock")
}
