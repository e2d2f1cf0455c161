package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/dddepg/subtrans/internal/logger"
)

// DefaultRateLimit is the default QPS limit applied to a provider with no
// explicit configuration.
const DefaultRateLimit = 10

// RateLimiter gates dispatch to a single provider independently of the
// broker's retry/backoff timers, so a caller-configured QPS cap and a
// provider's own 429 responses are two distinct throttles (spec §4.4).
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewRateLimiter creates a rate limiter with the given QPS and a burst
// equal to the QPS.
func NewRateLimiter(qps int) *RateLimiter {
	if qps <= 0 {
		qps = DefaultRateLimit
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), qps),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.RLock()
	limiter := r.limiter
	r.mu.RUnlock()
	return limiter.Wait(ctx)
}

// SetLimit updates the rate limit dynamically.
func (r *RateLimiter) SetLimit(qps int) {
	if qps <= 0 {
		qps = DefaultRateLimit
	}
	r.mu.Lock()
	r.limiter.SetLimit(rate.Limit(qps))
	r.limiter.SetBurst(qps)
	r.mu.Unlock()
	logger.Info("provider rate limit updated", "module", "provider", "action", "update", "resource", "rate_limiter", "result", "ok", "qps", qps)
}

// GetLimit returns the current rate limit.
func (r *RateLimiter) GetLimit() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.limiter.Limit())
}
