package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/athebyme/minimall/pkg/errors"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheShopScopedKeys(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithShop(ctx, "site", []byte(`{"v":1}`), "demo.myshopify.com", time.Minute))
	assert.True(t, mr.Exists("shop:demo.myshopify.com:site"))

	got, err := c.GetWithShop(ctx, "site", "demo.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	_, err = c.GetWithShop(ctx, "site", "other.myshopify.com")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)

	mr.FastForward(2 * time.Minute)
	_, err = c.GetWithShop(ctx, "site", "demo.myshopify.com")
	assert.ErrorIs(t, err, apperrors.ErrCacheMiss)
}

func TestRedisCacheDeleteByPatternWithShop(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"products:a", "products:b", "site"} {
		require.NoError(t, c.SetWithShop(ctx, k, []byte("x"), "demo.myshopify.com", 0))
	}
	require.NoError(t, c.SetWithShop(ctx, "products:a", []byte("x"), "other.myshopify.com", 0))

	require.NoError(t, c.DeleteByPatternWithShop(ctx, "products:*", "demo.myshopify.com"))

	assert.False(t, mr.Exists("shop:demo.myshopify.com:products:a"))
	assert.False(t, mr.Exists("shop:demo.myshopify.com:products:b"))
	assert.True(t, mr.Exists("shop:demo.myshopify.com:site"))
	assert.True(t, mr.Exists("shop:other.myshopify.com:products:a"))
}

func TestRedisCacheIncrement(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, "counter", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Increment(ctx, "counter", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestRedisLocker(t *testing.T) {
	c, mr := newTestCache(t)
	locker := c.Locker()

	unlock, err := locker.Lock(context.Background(), "upload:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:upload:1"))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "upload:1", time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists("lock:upload:1"))

	unlock2, err := locker.Lock(context.Background(), "upload:1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestKeyedMutexSerializes(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "k", 0)
			if err != nil {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, m.locks)
}

func TestKeyedMutexTimeout(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "k", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k", 0)
	assert.ErrorIs(t, err, apperrors.ErrLockTimeout)

	// другие ключи не блокируются
	unlockOther, err := m.Lock(context.Background(), "other", 0)
	require.NoError(t, err)
	unlockOther()
}
