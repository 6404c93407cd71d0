package provider

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/routecodex/routecodex/internal/router"
)

// limiterRegistry lazily creates one token-bucket limiter per target,
// mirroring the per-key visitor map pattern used for inbound rate limiting
// elsewhere in the corpus, applied here to outbound shaping instead.
type limiterRegistry struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[router.ProviderKey]*rate.Limiter
}

func newLimiterRegistry(rps float64, burst int) *limiterRegistry {
	return &limiterRegistry{rps: rps, burst: burst, limiters: make(map[router.ProviderKey]*rate.Limiter)}
}

// enabled reports whether outbound shaping is configured at all; a
// registry with rps<=0 hands back a nil limiter so Send skips Wait entirely.
func (r *limiterRegistry) enabled() bool {
	return r != nil && r.rps > 0
}

func (r *limiterRegistry) get(key router.ProviderKey) *rate.Limiter {
	if !r.enabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		burst := r.burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(r.rps), burst)
		r.limiters[key] = l
	}
	return l
}
