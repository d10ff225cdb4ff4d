// Package ratelimit spaces requests per domain with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/product-image-harvester/internal/crawler"
	"github.com/JakeFAU/product-image-harvester/internal/metrics"
)

const unknownDomain = "unknown"

// Limiter manages per-domain rate limits. Each domain gets a burst of one, so
// consecutive grants for a domain are at least 1/rps apart.
type Limiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to domains without an override. Non-positive means unlimited.
	DefaultRPS float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: toLimit(cfg.DefaultRPS),
	}
}

// SetRate installs a per-domain override. Non-positive values are ignored.
func (l *Limiter) SetRate(domain string, rps float64) {
	if rps <= 0 {
		return
	}
	limiter := l.limiterFor(domain)
	limiter.SetLimit(rate.Limit(rps))
}

// Acquire blocks until a request to domain may be issued. The only error is
// cancellation of ctx.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	limiter := l.limiterFor(domain)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key(domain), waited)
	}
	return nil
}

// Wait acquires a grant for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.Acquire(ctx, crawler.DomainOf(rawURL))
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	k := key(domain)
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[k]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, 1)
		l.limiters[k] = limiter
	}
	return limiter
}

func key(domain string) string {
	if domain == "" {
		return unknownDomain
	}
	return crawler.StripWWW(domain)
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
