package rpcapi

import (
	"sync"
	"time"
)

// ipLimiter is a sliding-window limiter keyed by client IP.
type ipLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &ipLimiter{events: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow reports whether key may make a call at now. When it may not,
// retryAfter is the time until the oldest counted call leaves the window.
func (l *ipLimiter) Allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.events[key] = kept
		return false, kept[0].Add(l.window).Sub(now)
	}
	l.events[key] = append(kept, now)

	// Bound memory: drop idle keys once the map grows.
	if len(l.events) > 4096 {
		for k, ts := range l.events {
			if len(ts) == 0 || !ts[len(ts)-1].After(cut) {
				delete(l.events, k)
			}
		}
	}
	return true, 0
}
