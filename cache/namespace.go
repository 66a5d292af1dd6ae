package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoadFunc fetches the value for key from the backing store on a cache miss.
// Loaders must be idempotent reads. A legitimate "no such record" result is
// returned as a value (for example models.Uid zero), not as an error; errors
// are reserved for failed loads, which are never cached.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type entry[V any] struct {
	val      V
	storedAt time.Time
}

// Namespace is a keyed TTL cache holding one kind of cached fact (schema
// columns, address ids, quota counts, stat values). Expiry is lazy: a read
// past the TTL reports a miss but leaves the entry in place; SweepExpired
// reclaims the memory in batch. Keys are opaque exact-match values, so
// callers normalize (trim, lowercase) before lookup.
type Namespace[K comparable, V any] struct {
	name string
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[K]entry[V]

	now func() time.Time

	hits    prometheus.Counter
	misses  prometheus.Counter
	expired prometheus.Counter
}

// NewNamespace creates an empty namespace. A ttl of zero makes every read a
// miss while writes still land: GetOrLoad hands the freshly loaded value to
// its caller but nothing is ever served from cache afterward.
func NewNamespace[K comparable, V any](name string, ttl time.Duration) *Namespace[K, V] {
	return &Namespace[K, V]{
		name:    name,
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
		hits:    cacheHits.WithLabelValues(name),
		misses:  cacheMisses.WithLabelValues(name),
		expired: cacheExpired.WithLabelValues(name),
	}
}

func (n *Namespace[K, V]) Name() string {
	return n.name
}

// Get returns the cached value for key if present and inside the TTL window.
// An expired entry counts as a miss but is not removed here; that is the
// sweep's job.
func (n *Namespace[K, V]) Get(key K) (V, bool) {
	n.mu.RLock()
	e, ok := n.entries[key]
	n.mu.RUnlock()

	if !ok || n.now().Sub(e.storedAt) >= n.ttl {
		n.misses.Inc()
		var zero V
		return zero, false
	}
	n.hits.Inc()
	return e.val, true
}

// GetOrLoad returns the cached value, or invokes load and caches what it
// returns (not-found sentinels included) with a fresh timestamp. A load error
// is handed back unchanged and nothing is stored.
//
// Two callers racing on a cold key can both observe the miss and both load;
// the second Set simply wins. Loads are idempotent reads, so that is
// redundant work, not corruption. Callers that want single-flight behavior
// coalesce above this layer (see mailstore).
func (n *Namespace[K, V]) GetOrLoad(ctx context.Context, key K, load LoadFunc[K, V]) (V, error) {
	if v, ok := n.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	n.Set(key, v)
	return v, nil
}

// Set unconditionally stores val under key with a fresh timestamp. Write
// paths use it to prime the cache right after a successful database mutation,
// skipping the loader round-trip.
func (n *Namespace[K, V]) Set(key K, val V) {
	now := n.now()
	n.mu.Lock()
	n.entries[key] = entry[V]{val: val, storedAt: now}
	n.mu.Unlock()
}

// Invalidate removes key. Removing an absent key is a no-op.
func (n *Namespace[K, V]) Invalidate(key K) {
	n.mu.Lock()
	delete(n.entries, key)
	n.mu.Unlock()
}

// InvalidateAll empties the namespace.
func (n *Namespace[K, V]) InvalidateAll() {
	n.mu.Lock()
	n.entries = make(map[K]entry[V])
	n.mu.Unlock()
}

// SweepExpired removes every entry whose age at now has reached the TTL and
// returns how many were dropped. Cost scales with namespace size; call it
// through a Sweeper rather than on every request.
func (n *Namespace[K, V]) SweepExpired(now time.Time) int {
	n.mu.Lock()
	removed := 0
	for k, e := range n.entries {
		if now.Sub(e.storedAt) >= n.ttl {
			delete(n.entries, k)
			removed++
		}
	}
	n.mu.Unlock()

	if removed > 0 {
		n.expired.Add(float64(removed))
	}
	return removed
}

// Len reports the raw entry count, expired-but-unswept entries included.
func (n *Namespace[K, V]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.entries)
}
