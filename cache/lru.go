package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
)

// LRU is the capacity-bounded TTL cache for content rows, which are bigger
// and more numerous than anything the namespaces hold. Unlike Namespace it
// expires eagerly: reading an entry past its TTL removes it on the spot, and
// inserting a new key at capacity drops the least recently touched key
// first, so repeatedly read content stays resident while one-off reads age
// out.
type LRU[K comparable, V any] struct {
	ttl time.Duration

	// simplelru keeps the recency order but no timestamps; the ttl layer
	// lives in entry. The list mutates on reads too, hence a plain Mutex.
	mu   sync.Mutex
	ents *simplelru.LRU[K, entry[V]]

	now func() time.Time

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	expired   prometheus.Counter
}

// NewLRU creates a content cache holding at most capacity entries for at
// most ttl each. Capacity must be positive.
func NewLRU[K comparable, V any](name string, capacity int, ttl time.Duration) (*LRU[K, V], error) {
	ents, err := simplelru.NewLRU[K, entry[V]](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{
		ttl:       ttl,
		ents:      ents,
		now:       time.Now,
		hits:      cacheHits.WithLabelValues(name),
		misses:    cacheMisses.WithLabelValues(name),
		evictions: cacheEvictions.WithLabelValues(name),
		expired:   cacheExpired.WithLabelValues(name),
	}, nil
}

// Get returns the value for key, bumping its recency. A missing key or one
// whose entry has outlived the TTL is a miss; the expired entry is removed
// before returning.
func (l *LRU[K, V]) Get(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.ents.Get(key)
	if !ok {
		l.misses.Inc()
		var zero V
		return zero, false
	}
	if l.now().Sub(e.storedAt) > l.ttl {
		l.ents.Remove(key)
		l.expired.Inc()
		l.misses.Inc()
		var zero V
		return zero, false
	}
	l.hits.Inc()
	return e.val, true
}

// Set stores val under key as the most recently touched entry. An existing
// key is replaced in place; a new key arriving at capacity evicts the least
// recently touched one first.
func (l *LRU[K, V]) Set(key K, val V) {
	now := l.now()
	l.mu.Lock()
	evicted := l.ents.Add(key, entry[V]{val: val, storedAt: now})
	l.mu.Unlock()

	if evicted {
		l.evictions.Inc()
	}
}

// Delete removes key. Removing an absent key is a no-op.
func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()
	l.ents.Remove(key)
	l.mu.Unlock()
}

// Clear empties the store.
func (l *LRU[K, V]) Clear() {
	l.mu.Lock()
	l.ents.Purge()
	l.mu.Unlock()
}

// Len reports the current entry count.
func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ents.Len()
}

// Keys returns the keys oldest to newest, for diagnostics and tests.
func (l *LRU[K, V]) Keys() []K {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ents.Keys()
}
