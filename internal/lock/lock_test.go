package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements Client with real SET NX PX and compare-and-delete
// semantics, including expiry.
type fakeRedis struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	err     error
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{entries: make(map[string]fakeEntry)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if e, ok := f.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return redis.NewBoolResult(false, nil)
	}
	f.entries[key] = fakeEntry{value: value.(string), expiresAt: time.Now().Add(expiration)}
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	e, ok := f.entries[keys[0]]
	if !ok || time.Now().After(e.expiresAt) || e.value != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.entries, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("should acquire a free lock", func(t *testing.T) {
		l := New(newFakeRedis(), "settle")
		token, ok, err := l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, token)
	})

	t.Run("should refuse a held lock", func(t *testing.T) {
		l := New(newFakeRedis(), "settle")
		_, ok, err := l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should allow reacquisition after release", func(t *testing.T) {
		l := New(newFakeRedis(), "settle")
		token, ok, err := l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, l.Release(ctx, "wallet-1", token))

		_, ok, err = l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("should treat an expired lock as absent", func(t *testing.T) {
		l := New(newFakeRedis(), "settle")
		_, ok, err := l.Acquire(ctx, "wallet-1", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(5 * time.Millisecond)

		_, ok, err = l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release with a stale token reports not held", func(t *testing.T) {
		rdb := newFakeRedis()
		l := New(rdb, "settle")
		token, ok, err := l.Acquire(ctx, "wallet-1", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(5 * time.Millisecond)
		_, ok, err = l.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, l.Release(ctx, "wallet-1", token), ErrNotHeld)
	})

	t.Run("namespaces do not collide", func(t *testing.T) {
		rdb := newFakeRedis()
		settle := New(rdb, "settle")
		withdraw := New(rdb, "withdraw")

		_, ok, err := settle.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = withdraw.Acquire(ctx, "wallet-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("acquisition fails closed on store error", func(t *testing.T) {
		rdb := newFakeRedis()
		rdb.err = assert.AnError
		l := New(rdb, "settle")

		_, ok, err := l.Acquire(ctx, "wallet-1", time.Minute)
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestAcquireMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := New(newFakeRedis(), "settle")

	const callers = 16
	var wg sync.WaitGroup
	acquired := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, ok, err := l.Acquire(ctx, "wallet-1", time.Minute); err == nil && ok {
				acquired <- token
			}
		}()
	}
	wg.Wait()
	close(acquired)

	var wins int
	for range acquired {
		wins++
	}
	assert.Equal(t, 1, wins, "concurrent acquire must yield exactly one winner")
}
