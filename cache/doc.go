// Package cache holds the in-process caches that sit between the request
// layer and the mail database, cutting read amplification on hot lookups.
//
// Two cache kinds share one process lifecycle: Namespace, a keyed TTL cache
// (one instance per kind of cached fact) with lazy expiry, and LRU, a
// capacity-bounded TTL cache for larger content rows with recency eviction.
// Sweeper rate-limits the active expiry pass over the namespaces so callers
// can trigger it opportunistically without paying the full scan on every
// request.
//
// Caches are allowed to serve stale values inside their TTL window; writers
// are expected to invalidate the affected keys after mutating the backing
// store. Cache state is process-local and not persisted.
package cache
