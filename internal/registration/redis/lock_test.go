package redis

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func newLock(client *redis.Client, ttl, wait time.Duration) *Redis {
	return NewRedis(client, config.LockConfig{TTL: ttl, Wait: wait}, logger.NewWithWriter("test", io.Discard))
}

func TestLockEvent_ExclusiveUntilUnlocked(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	r := newLock(client, 10*time.Second, 0)

	token, err := r.LockEvent(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, mr.Exists("registration_lock:event:42"))

	_, err = r.LockEvent(ctx, 42)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// other events are independent
	other, err := r.LockEvent(ctx, 43)
	require.NoError(t, err)
	require.NoError(t, r.UnlockEvent(ctx, 43, other))

	require.NoError(t, r.UnlockEvent(ctx, 42, token))
	assert.False(t, mr.Exists("registration_lock:event:42"))

	_, err = r.LockEvent(ctx, 42)
	assert.NoError(t, err)
}

func TestUnlockEvent_WrongTokenKeepsLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	r := newLock(client, 10*time.Second, 0)

	_, err := r.LockEvent(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, r.UnlockEvent(ctx, 1, "not-the-owner"))
	assert.True(t, mr.Exists("registration_lock:event:1"))
}

func TestLockEvent_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	r := newLock(client, 2*time.Second, 0)

	token, err := r.LockEvent(ctx, 9)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	_, err = r.LockEvent(ctx, 9)
	require.NoError(t, err)

	// the stale holder must not release the new owner's lock
	require.NoError(t, r.UnlockEvent(ctx, 9, token))
	assert.True(t, mr.Exists("registration_lock:event:9"))
}

func TestLockEvent_WaitsForRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	r := newLock(client, 10*time.Second, 2*time.Second)

	token, err := r.LockEvent(ctx, 5)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = r.UnlockEvent(ctx, 5, token)
	}()

	start := time.Now()
	_, err = r.LockEvent(ctx, 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLockEvent_SerializesConcurrentHolders(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	r := newLock(client, 10*time.Second, 5*time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := r.LockEvent(ctx, 77)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, r.UnlockEvent(ctx, 77, token))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
