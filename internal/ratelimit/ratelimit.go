// Package ratelimit provides per-tenant request throttling with token
// buckets. Limits are advisory metadata as well: every decision reports the
// configured ceiling and the remaining burst for response headers.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimit overrides the default rate for one tenant.
type TenantLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Config contains limiter configuration.
type Config struct {
	// RequestsPerSecond is the default refill rate. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the default bucket size. Zero means the ceiling of the rate,
	// minimum 1.
	Burst int
	// Tenants holds per-tenant overrides.
	Tenants map[string]TenantLimit
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Limit is the tenant's burst ceiling, for the X-RateLimit-Limit header.
	Limit int
	// Remaining approximates the tokens left after this request.
	Remaining int
}

// Limiter keeps one token bucket per tenant.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     Config
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		cfg:     cfg,
	}
}

func (l *Limiter) limitFor(tenantID string) (float64, int) {
	rps, burst := l.cfg.RequestsPerSecond, l.cfg.Burst
	if t, ok := l.cfg.Tenants[tenantID]; ok {
		rps, burst = t.RequestsPerSecond, t.Burst
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
		if burst < 1 {
			burst = 1
		}
	}
	return rps, burst
}

// Allow runs one admission check for the tenant.
func (l *Limiter) Allow(tenantID string) Decision {
	rps, burst := l.limitFor(tenantID)
	if rps <= 0 {
		// Limiting disabled: report the bucket as unbounded.
		return Decision{Allowed: true, Limit: -1, Remaining: -1}
	}

	l.mu.Lock()
	bucket, ok := l.buckets[tenantID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(rps), burst)
		l.buckets[tenantID] = bucket
	}
	l.mu.Unlock()

	allowed := bucket.Allow()
	remaining := int(bucket.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: allowed, Limit: burst, Remaining: remaining}
}
