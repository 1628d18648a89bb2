package server

import (
	"sync"
	"time"
)

// sweepThreshold is the bucket count above which expired windows are
// dropped on the next call.
const sweepThreshold = 4096

// rateLimiter is a fixed-window limiter keyed by client address. Each client
// has an independent counter that resets once its window has elapsed. A
// limit of 0 allows everything.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*windowBucket
	now     func() time.Time
}

type windowBucket struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*windowBucket),
		now:     time.Now,
	}
}

// Allow reports whether client may make another request in the current
// window. It is safe for concurrent use.
func (r *rateLimiter) Allow(client string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.buckets) > sweepThreshold {
		for k, b := range r.buckets {
			if now.After(b.resetAt) {
				delete(r.buckets, k)
			}
		}
	}

	b, ok := r.buckets[client]
	if !ok || now.After(b.resetAt) {
		r.buckets[client] = &windowBucket{count: 1, resetAt: now.Add(r.window)}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}
