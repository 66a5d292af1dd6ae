package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "freemail_cache_hits_total",
	Help: "Cache reads served from memory",
}, []string{"cache"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "freemail_cache_misses_total",
	Help: "Cache reads that missed, expired entries included",
}, []string{"cache"})

var cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "freemail_cache_evictions_total",
	Help: "Entries dropped to stay under capacity",
}, []string{"cache"})

var cacheExpired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "freemail_cache_expired_total",
	Help: "Entries removed because their TTL ran out",
}, []string{"cache"})

var cacheSweeps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "freemail_cache_sweeps_total",
	Help: "Active expiry passes admitted by the sweep gate",
})
