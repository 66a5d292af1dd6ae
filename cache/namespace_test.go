package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceSetGet(t *testing.T) {
	assert := assert.New(t)

	ns := NewNamespace[string, int]("test-setget", time.Minute)

	_, ok := ns.Get("a@x.com")
	assert.False(ok)

	ns.Set("a@x.com", 42)
	v, ok := ns.Get("a@x.com")
	assert.True(ok)
	assert.Equal(42, v)

	// overwrite refreshes the value
	ns.Set("a@x.com", 43)
	v, ok = ns.Get("a@x.com")
	assert.True(ok)
	assert.Equal(43, v)
}

func TestNamespaceTTL(t *testing.T) {
	assert := assert.New(t)

	now := time.Now()
	ns := NewNamespace[string, int]("test-ttl", 100*time.Millisecond)
	ns.now = func() time.Time { return now }

	ns.Set("a@x.com", 42)

	now = now.Add(50 * time.Millisecond)
	v, ok := ns.Get("a@x.com")
	assert.True(ok)
	assert.Equal(42, v)

	now = now.Add(100 * time.Millisecond)
	_, ok = ns.Get("a@x.com")
	assert.False(ok)

	// lazy expiry: the read above did not remove the entry
	assert.Equal(1, ns.Len())
}

func TestNamespaceZeroTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ns := NewNamespace[string, int]("test-zero-ttl", 0)

	// writes land but reads never serve them
	ns.Set("k", 7)
	_, ok := ns.Get("k")
	assert.False(ok)
	assert.Equal(1, ns.Len())

	// the immediate GetOrLoad caller still gets the loaded value, and the
	// loader runs every time
	calls := 0
	load := func(ctx context.Context, key string) (int, error) {
		calls++
		return 9, nil
	}
	v, err := ns.GetOrLoad(ctx, "k", load)
	assert.NoError(err)
	assert.Equal(9, v)
	v, err = ns.GetOrLoad(ctx, "k", load)
	assert.NoError(err)
	assert.Equal(9, v)
	assert.Equal(2, calls)
}

func TestNamespaceGetOrLoad(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Now()
	ns := NewNamespace[string, uint64]("test-load", time.Minute)
	ns.now = func() time.Time { return now }

	calls := 0
	load := func(ctx context.Context, key string) (uint64, error) {
		calls++
		return 123, nil
	}

	v, err := ns.GetOrLoad(ctx, "box@tmp.dev", load)
	assert.NoError(err)
	assert.Equal(uint64(123), v)
	assert.Equal(1, calls)

	// second read is served from cache
	v, err = ns.GetOrLoad(ctx, "box@tmp.dev", load)
	assert.NoError(err)
	assert.Equal(uint64(123), v)
	assert.Equal(1, calls)

	// past the TTL the loader runs again
	now = now.Add(2 * time.Minute)
	v, err = ns.GetOrLoad(ctx, "box@tmp.dev", load)
	assert.NoError(err)
	assert.Equal(uint64(123), v)
	assert.Equal(2, calls)
}

func TestNamespaceNegativeCaching(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ns := NewNamespace[string, uint64]("test-negative", time.Minute)

	calls := 0
	load := func(ctx context.Context, key string) (uint64, error) {
		calls++
		return 0, nil // no mailbox for this address
	}

	v, err := ns.GetOrLoad(ctx, "nobody@tmp.dev", load)
	assert.NoError(err)
	assert.Equal(uint64(0), v)

	// the not-found sentinel is cached like any value
	v, err = ns.GetOrLoad(ctx, "nobody@tmp.dev", load)
	assert.NoError(err)
	assert.Equal(uint64(0), v)
	assert.Equal(1, calls)
}

func TestNamespaceLoadError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ns := NewNamespace[string, int]("test-load-err", time.Minute)

	boom := errors.New("connection refused")
	calls := 0
	failing := func(ctx context.Context, key string) (int, error) {
		calls++
		return 0, boom
	}

	_, err := ns.GetOrLoad(ctx, "k", failing)
	assert.ErrorIs(err, boom)
	assert.Equal(0, ns.Len())

	// a failed load is not cached as a negative result
	_, err = ns.GetOrLoad(ctx, "k", failing)
	assert.ErrorIs(err, boom)
	assert.Equal(2, calls)

	// a later successful load is cached normally
	v, err := ns.GetOrLoad(ctx, "k", func(ctx context.Context, key string) (int, error) {
		return 5, nil
	})
	assert.NoError(err)
	assert.Equal(5, v)
	v, ok := ns.Get("k")
	assert.True(ok)
	assert.Equal(5, v)
}

func TestNamespaceInvalidate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ns := NewNamespace[string, int]("test-invalidate", time.Hour)

	ns.Set("k", 1)
	ns.Invalidate("k")
	_, ok := ns.Get("k")
	assert.False(ok)

	// idempotent on absent keys
	ns.Invalidate("k")
	ns.Invalidate("never-set")

	// invalidation forces a fresh load even well inside the TTL window
	ns.Set("k", 1)
	ns.Invalidate("k")
	calls := 0
	v, err := ns.GetOrLoad(ctx, "k", func(ctx context.Context, key string) (int, error) {
		calls++
		return 2, nil
	})
	assert.NoError(err)
	assert.Equal(2, v)
	assert.Equal(1, calls)
}

func TestNamespaceInvalidateAll(t *testing.T) {
	assert := assert.New(t)

	ns := NewNamespace[string, int]("test-invalidate-all", time.Hour)
	for i := 0; i < 5; i++ {
		ns.Set(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(5, ns.Len())

	ns.InvalidateAll()
	assert.Equal(0, ns.Len())
	for i := 0; i < 5; i++ {
		_, ok := ns.Get(fmt.Sprintf("k%d", i))
		assert.False(ok)
	}
}

func TestNamespaceSweepExpired(t *testing.T) {
	assert := assert.New(t)

	now := time.Now()
	ns := NewNamespace[string, int]("test-sweep", time.Minute)
	ns.now = func() time.Time { return now }

	ns.Set("old-1", 1)
	ns.Set("old-2", 2)
	now = now.Add(2 * time.Minute)
	ns.Set("fresh", 3)

	removed := ns.SweepExpired(now)
	assert.Equal(2, removed)
	assert.Equal(1, ns.Len())

	v, ok := ns.Get("fresh")
	assert.True(ok)
	assert.Equal(3, v)

	// nothing left to reclaim
	assert.Equal(0, ns.SweepExpired(now))
}

func TestNamespaceConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ns := NewNamespace[string, int]("test-concurrent", time.Minute)

	// Hammer one hot key and a few cold ones from several goroutines; run
	// with -race. Both racers loading the same cold key is fine, the last
	// write wins with an equivalent value.
	var wg sync.WaitGroup
	wg.Add(4)
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%5)
				v, err := ns.GetOrLoad(ctx, key, func(ctx context.Context, key string) (int, error) {
					return i % 5, nil
				})
				assert.NoError(err)
				assert.Equal(i%5, v)
				if i%50 == 0 {
					ns.Invalidate(key)
				}
			}
		}(g)
	}
	wg.Wait()
}
