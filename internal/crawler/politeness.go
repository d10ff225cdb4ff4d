package crawler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultForbiddenAttempts = 5
	maxRetryAfter            = 30 * time.Second
)

// VisitedSet tracks the URLs already dequeued during one crawl. It only grows.
type VisitedSet struct {
	seen  sync.Map
	count atomic.Int64
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (v *VisitedSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := v.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		v.count.Add(1)
	}
	return !loaded
}

// Len returns the number of distinct URLs marked.
func (v *VisitedSet) Len() int {
	return int(v.count.Load())
}

// forbiddenTracker counts refusals (403/429) per host and blocks hosts on excess.
type forbiddenTracker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

func newForbiddenTracker(threshold int) *forbiddenTracker {
	if threshold <= 0 {
		threshold = defaultForbiddenAttempts
	}
	return &forbiddenTracker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// MarkForbidden increments the counter for host and returns true once blocked.
func (b *forbiddenTracker) MarkForbidden(host string) bool {
	if host == "" {
		return false
	}
	key := StripWWW(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// pauseController abstracts how the crawler backs off when throttled.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// retryAfter parses a Retry-After header in seconds, capped at maxRetryAfter.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	delay := time.Duration(secs) * time.Second
	if delay > maxRetryAfter {
		return maxRetryAfter
	}
	return delay
}
