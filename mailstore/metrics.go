package mailstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookupsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "freemail_mailstore_lookups_coalesced_total",
	Help: "Address lookups that waited on another caller's in-flight load",
})

var loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "freemail_mailstore_load_duration_seconds",
	Help:    "Backing-store load latency on cache misses",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 2, 20),
}, []string{"kind", "status"})

func observeLoad(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	loadDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}
