package api

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter per api key. Within one window at
// most limit calls pass; the next one is rejected until the window rolls.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*window
}

type window struct {
	start time.Time
	count int
}

func NewRateLimiter(limit int, windowDur time.Duration) *RateLimiter {
	return newRateLimiterWithClock(limit, windowDur, time.Now)
}

func newRateLimiterWithClock(limit int, windowDur time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  windowDur,
		now:     now,
		buckets: make(map[string]*window),
	}
}

// Allow records one call for key and reports whether it fits the window.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok || now.Sub(b.start) >= r.window {
		r.buckets[key] = &window{start: now, count: 1}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	return true
}
