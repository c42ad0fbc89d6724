package session

import (
	"sync"
	"time"
)

// loginThrottle tracks recent login failures per client key (usually the remote IP).
type loginThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	limit    int
	window   time.Duration
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	return &loginThrottle{
		failures: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// check reports whether key is currently blocked and for how long.
func (t *loginThrottle) check(key string, now time.Time) (bool, time.Duration) {
	if t == nil || t.limit <= 0 || key == "" {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := pruneBefore(t.failures[key], now.Add(-t.window))
	if len(kept) == 0 {
		delete(t.failures, key)
	} else {
		t.failures[key] = kept
	}
	return evaluateWindowThrottle(now, kept, t.limit, t.window)
}

func (t *loginThrottle) fail(key string, now time.Time) {
	if t == nil || t.limit <= 0 || key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[key] = append(pruneBefore(t.failures[key], now.Add(-t.window)), now)
}

func (t *loginThrottle) reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
}

func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	dst := ts[:0]
	for _, v := range ts {
		if v.After(cut) {
			dst = append(dst, v)
		}
	}
	return dst
}

// evaluateWindowThrottle blocks once limit failures fall inside window.
// The retry delay lasts until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	var oldest time.Time
	n := 0
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		n++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if n < limit {
		return false, 0
	}
	retry := oldest.Add(window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return true, retry
}
