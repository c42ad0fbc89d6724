package continuation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(opts ...Option) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func noopWS(context.Context, *websocket.Conn) error { return nil }
func noopRest(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

// Scenario: a WebSocket continuation is invisible to the REST claimer and
// claimable exactly once over WebSocket.
func TestClaim_KindMismatchLeavesEntry(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry()
	ctx := context.Background()
	g, err := r.Register(WebSocket(noopWS))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.ClaimRest(ctx, g); ok {
		t.Fatalf("rest claim of websocket continuation must miss")
	}
	if r.Len() != 1 {
		t.Fatalf("kind mismatch must leave the entry in place")
	}
	if h, ok := r.ClaimWebSocket(ctx, g); !ok || h == nil {
		t.Fatalf("websocket claim must hit")
	}
	if _, ok := r.ClaimWebSocket(ctx, g); ok {
		t.Fatalf("second websocket claim must miss")
	}
	if r.Len() != 0 {
		t.Fatalf("claimed entry must be removed")
	}
}

func TestClaim_RestHandlerRuns(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry()
	g, _ := r.Register(Rest(noopRest))

	h, ok := r.ClaimRest(context.Background(), g)
	if !ok {
		t.Fatalf("rest claim must hit")
	}
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/rest/rpc/"+g.String(), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("handler not invoked, code=%d", rec.Code)
	}
}

func TestClaim_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry(WithTTL(KindWebSocket, 10*time.Second))
	ctx := context.Background()

	early, _ := r.Register(WebSocket(noopWS))
	late, _ := r.Register(WebSocket(noopWS))

	clock.Advance(10*time.Second - time.Nanosecond)
	if _, ok := r.ClaimWebSocket(ctx, early); !ok {
		t.Fatalf("claim just before expiry must hit")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := r.ClaimWebSocket(ctx, late); ok {
		t.Fatalf("claim at expiry must miss")
	}
	if r.Len() != 0 {
		t.Fatalf("expired entry found by a claim must be dropped")
	}
}

func TestAdd_SweepsExpiredFirst(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry(WithTTL(KindRest, time.Minute), WithTTL(KindWebSocket, time.Second))
	ws, _ := r.Register(WebSocket(noopWS))
	rest, _ := r.Register(Rest(noopRest))

	// Nothing is reclaimed without an insert.
	clock.Advance(2 * time.Second)
	if r.Len() != 2 {
		t.Fatalf("expected expired entry to linger until the next insert, len=%d", r.Len())
	}

	_, _ = r.Register(Rest(noopRest))
	if r.Len() != 2 {
		t.Fatalf("insert must sweep expired entries first, len=%d", r.Len())
	}
	if _, ok := r.ClaimWebSocket(context.Background(), ws); ok {
		t.Fatalf("swept continuation must be unclaimable")
	}
	if _, ok := r.ClaimRest(context.Background(), rest); !ok {
		t.Fatalf("unexpired rest continuation must survive the sweep")
	}
}

func TestSweep_ReturnsCount(t *testing.T) {
	t.Parallel()

	r, clock := newTestRegistry()
	for i := 0; i < 3; i++ {
		_, _ = r.Register(WebSocket(noopWS))
	}
	clock.Advance(DefaultTTL)
	if n := r.Sweep(); n != 3 {
		t.Fatalf("Sweep=%d want 3", n)
	}
}

func TestAdd_OverwritesCollision(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry()
	g, _ := NewGuid(time.Now())
	r.Add(g, WebSocket(noopWS))
	r.Add(g, Rest(noopRest))

	if _, ok := r.ClaimWebSocket(context.Background(), g); ok {
		t.Fatalf("overwritten websocket continuation must be gone")
	}
	if _, ok := r.ClaimRest(context.Background(), g); !ok {
		t.Fatalf("replacement must be claimable")
	}
}

func TestClaim_ConcurrentAtMostOnce(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry()
	g, _ := r.Register(WebSocket(noopWS))

	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				_, ok = r.ClaimWebSocket(context.Background(), g)
			} else {
				_, ok = r.ClaimRest(context.Background(), g)
			}
			if ok {
				hits.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", hits.Load())
	}
}

func TestGuid_UniqueAndParseable(t *testing.T) {
	t.Parallel()

	seen := make(map[RequestGuid]struct{})
	now := time.Now()
	for i := 0; i < 1000; i++ {
		g, err := NewGuid(now)
		if err != nil {
			t.Fatalf("NewGuid: %v", err)
		}
		if _, dup := seen[g]; dup {
			t.Fatalf("duplicate guid %s", g)
		}
		seen[g] = struct{}{}
		if back, ok := ParseGuid(g.String()); !ok || back != g {
			t.Fatalf("ParseGuid(%s) failed", g)
		}
	}
	if _, ok := ParseGuid("../../etc/passwd"); ok {
		t.Fatalf("ParseGuid accepted garbage")
	}
}
