// Package limiter provides per-key token bucket admission control.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/isdmx/sqlbox/metrics"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// PerKey keeps one token bucket per key, e.g. per learner identity.
type PerKey struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewPerKey returns a limiter allowing perSecond events per key with the
// given burst.
func NewPerKey(perSecond float64, burst int) *PerKey {
	if burst < 1 {
		burst = 1
	}
	return &PerKey{
		rate:  rate.Limit(perSecond),
		burst: burst,
		now:   time.Now,
	}
}

func (p *PerKey) get(key string) *keyLimiter {
	if v, ok := p.limiters.Load(key); ok {
		return v.(*keyLimiter)
	}
	v, _ := p.limiters.LoadOrStore(key, &keyLimiter{limiter: rate.NewLimiter(p.rate, p.burst)})
	return v.(*keyLimiter)
}

// Allow reports whether an event for key may happen now.
func (p *PerKey) Allow(key string) bool {
	kl := p.get(key)
	now := p.now()
	kl.mu.Lock()
	kl.lastSeen = now
	kl.mu.Unlock()
	if !kl.limiter.AllowN(now, 1) {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// Prune drops limiters idle for longer than maxIdle and returns how many
// were removed.
func (p *PerKey) Prune(maxIdle time.Duration) int {
	cutoff := p.now().Add(-maxIdle)
	removed := 0
	p.limiters.Range(func(key, value any) bool {
		kl := value.(*keyLimiter)
		kl.mu.Lock()
		idle := kl.lastSeen.Before(cutoff)
		kl.mu.Unlock()
		if idle {
			p.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// StartPruning prunes idle limiters every interval until stop is closed.
func (p *PerKey) StartPruning(interval, maxIdle time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Prune(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}
