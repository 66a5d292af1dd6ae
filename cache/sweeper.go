package cache

import (
	"time"

	"golang.org/x/time/rate"
)

// Sweeper gates how often an active expiry pass may run. Callers invoke
// MaybeSweep opportunistically (once per request is fine); a token bucket of
// burst one admits at most one pass per minInterval regardless of call
// volume, so the O(cache size) scan stays an amortized cost.
type Sweeper struct {
	gate *rate.Limiter
}

// NewSweeper returns a gate admitting one pass per minInterval. The first
// call after construction always passes; a minInterval of zero admits every
// call.
func NewSweeper(minInterval time.Duration) *Sweeper {
	return &Sweeper{gate: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// MaybeSweep runs fn if a pass is admitted at now and reports whether it
// ran. The Sweeper itself evicts nothing; fn is expected to call
// SweepExpired across the namespaces.
func (s *Sweeper) MaybeSweep(now time.Time, fn func()) bool {
	if !s.gate.AllowN(now, 1) {
		return false
	}
	cacheSweeps.Inc()
	fn()
	return true
}
