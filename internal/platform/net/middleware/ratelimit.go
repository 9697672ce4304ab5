package middleware

import (
	"net/http"
	"sync"
	"time"

	perr "fetchmcp/internal/platform/errors"
)

// bucket is the per-IP rate-limit window described by spec: a fixed window
// that resets wholesale once now passes resetTime, rather than a rolling
// token bucket.
type bucket struct {
	count        int
	resetTime    time.Time
	lastAccessed time.Time
}

// RateLimiter is a keyed fixed-window limiter. Entries idle longer than
// 2*window are swept on a timer so long-lived servers don't leak IPs.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
	nowFn   func() time.Time
	stopCh  chan struct{}
}

// NewRateLimiter creates a limiter allowing max requests per window per key
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
		nowFn:   time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop halts the background sweep goroutine
func (rl *RateLimiter) Stop() { close(rl.stopCh) }

func (rl *RateLimiter) sweepLoop() {
	t := time.NewTicker(rl.window)
	defer t.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-t.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.nowFn().Add(-2 * rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if b.lastAccessed.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// Allow reports whether key may proceed, incrementing its bucket's count.
// A fresh bucket begins whenever now has passed the prior resetTime.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.nowFn()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetTime) {
		b = &bucket{count: 0, resetTime: now.Add(rl.window)}
		rl.buckets[key] = b
	}
	b.lastAccessed = now
	if b.count >= rl.max {
		return false
	}
	b.count++
	return true
}

// clientKey extracts the caller's IP for bucketing, preferring RemoteAddr as
// set by RealIP middleware upstream in the chain
func clientKey(r *http.Request) string {
	return stripPort(r.RemoteAddr)
}

// RateLimit enforces N requests per window per client IP. OPTIONS requests
// (CORS preflight) are exempt.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(clientKey(r)) {
				writeRPCError(w, perr.RateLimitedf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
