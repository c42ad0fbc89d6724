package continuation

import (
	"context"
	"sync"
	"time"

	"startd/cmd/internal/metrics"
)

// DefaultTTL is how long an unclaimed continuation stays claimable.
const DefaultTTL = 30 * time.Second

type entry struct {
	cont    Continuation
	expires time.Time
}

// Registry maps guids to pending continuations.
//
// Expired entries are reclaimed by Sweep, which Add runs before every insert,
// and by any claim that finds one. There is no background reaper.
type Registry struct {
	mu      sync.Mutex
	entries map[RequestGuid]entry

	ttl map[Kind]time.Duration
	now func() time.Time
}

type Option func(*Registry)

// WithTTL sets the expiry for every continuation of kind.
func WithTTL(kind Kind, d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ttl[kind] = d
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[RequestGuid]entry),
		ttl: map[Kind]time.Duration{
			KindWebSocket: DefaultTTL,
			KindRest:      DefaultTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TTL returns the expiry applied to continuations of kind.
func (r *Registry) TTL(kind Kind) time.Duration { return r.ttl[kind] }

// Add sweeps expired entries, then stores cont under guid, replacing any
// previous entry with the same guid.
func (r *Registry) Add(guid RequestGuid, cont Continuation) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)
	r.entries[guid] = entry{cont: cont, expires: now.Add(r.ttl[cont.kind])}
	metrics.ContinuationsPending.Set(float64(len(r.entries)))
}

// Register mints a guid for cont and adds it.
func (r *Registry) Register(cont Continuation) (RequestGuid, error) {
	guid, err := NewGuid(r.now())
	if err != nil {
		return "", err
	}
	r.Add(guid, cont)
	return guid, nil
}

// Sweep drops every expired entry and returns how many it removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.sweepLocked(now)
	metrics.ContinuationsPending.Set(float64(len(r.entries)))
	return n
}

func (r *Registry) sweepLocked(now time.Time) int {
	n := 0
	for guid, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, guid)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ClaimWebSocket removes and returns the WebSocket handler for guid.
// It reports false when guid is unknown, expired, or registered as REST;
// a REST entry stays in place for its own claimer.
func (r *Registry) ClaimWebSocket(ctx context.Context, guid RequestGuid) (WebSocketHandler, bool) {
	c, ok := r.claim(guid, KindWebSocket)
	if !ok {
		return nil, false
	}
	return c.ws.take(ctx)
}

// ClaimRest is the REST counterpart of ClaimWebSocket.
func (r *Registry) ClaimRest(ctx context.Context, guid RequestGuid) (RestHandler, bool) {
	c, ok := r.claim(guid, KindRest)
	if !ok {
		return nil, false
	}
	return c.rest.take(ctx)
}

func (r *Registry) claim(guid RequestGuid, kind Kind) (Continuation, bool) {
	now := r.now()
	transport := kind.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[guid]
	switch {
	case !ok:
		metrics.ContinuationClaimsTotal.WithLabelValues(transport, "miss").Inc()
		return Continuation{}, false
	case !now.Before(e.expires):
		delete(r.entries, guid)
		metrics.ContinuationsPending.Set(float64(len(r.entries)))
		metrics.ContinuationClaimsTotal.WithLabelValues(transport, "expired").Inc()
		return Continuation{}, false
	case e.cont.kind != kind:
		metrics.ContinuationClaimsTotal.WithLabelValues(transport, "miss").Inc()
		return Continuation{}, false
	}

	delete(r.entries, guid)
	metrics.ContinuationsPending.Set(float64(len(r.entries)))
	metrics.ContinuationClaimsTotal.WithLabelValues(transport, "hit").Inc()
	return e.cont, true
}
