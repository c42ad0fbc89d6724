package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"startd/cmd/internal/errs"
)

// plainVerifier treats the stored hash as "plain:<password>".
type plainVerifier struct{}

func (plainVerifier) Verify(encodedHash, password string) (bool, error) {
	if len(encodedHash) < 6 || encodedHash[:6] != "plain:" {
		return false, errors.New("bad hash")
	}
	return encodedHash[6:] == password, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *SQLiteStore
	sockets *OpenWebSockets
	clock   *testClock
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()

	st := newTestSQLite(t)
	sockets := NewOpenWebSockets()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(cfg, st, plainVerifier{}, func() string { return "plain:hunter22" }, sockets, WithClock(clock.Now))
	return fixture{svc: svc, store: st, sockets: sockets, clock: clock}
}

func requestWith(tok HashedToken) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/rpc/v1", nil)
	r.AddCookie(tok.Cookie())
	return r
}

func login(t *testing.T, f fixture) HashedToken {
	t.Helper()
	tok, err := f.svc.Login(context.Background(), LoginInput{
		Password:   "hunter22",
		Metadata:   map[string]any{"platforms": []string{"cli"}},
		UserAgent:  "startd-cli/1",
		RemoteAddr: "192.0.2.10:5555",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return tok
}

func TestLogin_StoresOnlyHash(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	tok := login(t, f)

	rows, err := f.store.ListActive(context.Background(), f.clock.Now())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].ID != tok.Hashed() || rows[0].ID == tok.raw {
		t.Fatalf("row must be keyed by hash only")
	}
	if rows[0].Metadata != `{"platforms":["cli"]}` {
		t.Fatalf("metadata=%s", rows[0].Metadata)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	_, err := f.svc.Login(context.Background(), LoginInput{Password: "nope", RemoteAddr: "192.0.2.1:1"})
	if !errs.IsAuthorization(err) || errs.Message(err) != "Password Incorrect" {
		t.Fatalf("expected Password Incorrect authorization error, got %v", err)
	}

	rows, _ := f.store.ListActive(context.Background(), f.clock.Now())
	if len(rows) != 0 {
		t.Fatalf("failed login must not create a session")
	}
}

func TestLogin_MetadataMarshalFailureIsDatabaseKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	_, err := f.svc.Login(context.Background(), LoginInput{Password: "hunter22", Metadata: make(chan int)})
	if !errors.Is(err, errs.ErrDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}
}

func TestLogin_Throttled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.LoginFailMax = 2
	cfg.LoginFailWindow = time.Minute
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = f.svc.Login(ctx, LoginInput{Password: "bad", RemoteAddr: "198.51.100.7:4000"})
	}
	_, err := f.svc.Login(ctx, LoginInput{Password: "hunter22", RemoteAddr: "198.51.100.7:4001"})
	var rl LoginRateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != time.Minute {
		t.Fatalf("expected LoginRateLimitError, got %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if _, err := f.svc.Login(ctx, LoginInput{Password: "hunter22", RemoteAddr: "198.51.100.7:4002"}); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

// Scenario: login on two devices, list from one, kill the other.
func TestListAndKill_MultiDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	phone := login(t, f)
	laptop := login(t, f)

	list, err := f.svc.List(ctx, requestWith(phone))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Current != phone.Hashed() || len(list.Sessions) != 2 {
		t.Fatalf("unexpected list: current=%s n=%d", list.Current, len(list.Sessions))
	}
	if ua := list.Sessions[laptop.Hashed()].UserAgent; ua == nil || *ua != "startd-cli/1" {
		t.Fatalf("user agent not captured")
	}

	b, _ := json.Marshal(list)
	var wire map[string]any
	_ = json.Unmarshal(b, &wire)
	sess := wire["sessions"].(map[string]any)[phone.Hashed()].(map[string]any)
	for _, k := range []string{"logged-in", "last-active", "user-agent", "metadata"} {
		if _, ok := sess[k]; !ok {
			t.Fatalf("wire session missing %q: %s", k, b)
		}
	}

	laptopSock := f.sockets.Register(laptop.Hashed())
	phoneSock := f.sockets.Register(phone.Hashed())

	ended, err := f.svc.Kill(ctx, []string{laptop.Hashed(), "does-not-exist"})
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(ended) != 1 || ended[0] != laptop.Hashed() {
		t.Fatalf("ended=%v", ended)
	}

	select {
	case <-laptopSock.Done():
	default:
		t.Fatalf("laptop socket must be signalled")
	}
	if phoneSock.Fired() {
		t.Fatalf("phone socket must stay open")
	}

	f.clock.Advance(time.Second)
	if _, err := f.svc.Authenticate(ctx, requestWith(laptop)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("killed session authenticated: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, requestWith(phone)); err != nil {
		t.Fatalf("surviving session rejected: %v", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	tok := login(t, f)

	if ended, err := f.svc.Logout(ctx, httptest.NewRequest(http.MethodPost, "/rpc/v1", nil)); err != nil || len(ended) != 0 {
		t.Fatalf("logout without cookie: ended=%v err=%v", ended, err)
	}

	sig := f.sockets.Register(tok.Hashed())
	wantEnded := []int{1, 0}
	for i := 0; i < 2; i++ {
		ended, err := f.svc.Logout(ctx, requestWith(tok))
		if err != nil {
			t.Fatalf("logout #%d: %v", i+1, err)
		}
		if len(ended) != wantEnded[i] {
			t.Fatalf("logout #%d ended=%v", i+1, ended)
		}
	}
	if !sig.Fired() || f.sockets.Count() != 0 {
		t.Fatalf("logout must close the session's sockets")
	}

	f.clock.Advance(time.Millisecond)
	if _, err := f.svc.Authenticate(ctx, requestWith(tok)); err == nil {
		t.Fatalf("logged-out session still authenticates")
	}
}

func TestList_RequiresCookie(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	_, err := f.svc.List(context.Background(), httptest.NewRequest(http.MethodPost, "/", nil))
	if !errs.IsAuthorization(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestAuthenticate_TouchesLastActive(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TouchInterval = time.Minute
	f := newFixture(t, cfg)
	ctx := context.Background()
	tok := login(t, f)
	start := f.clock.Now()

	f.clock.Advance(10 * time.Second)
	if _, err := f.svc.Authenticate(ctx, requestWith(tok)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	_, _ = f.svc.Authenticate(ctx, requestWith(tok)) // inside TouchInterval

	row, _ := f.store.GetActive(ctx, f.clock.Now(), tok.Hashed())
	if !row.LastActive.Equal(start.Add(10 * time.Second)) {
		t.Fatalf("last_active=%v want %v", row.LastActive, start.Add(10*time.Second))
	}
}

func TestCheckActive_FailsAfterKill(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	tok := login(t, f)

	if err := f.svc.CheckActive(ctx, tok); err != nil {
		t.Fatalf("CheckActive on a live session: %v", err)
	}

	if _, err := f.svc.Kill(ctx, []string{tok.Hashed()}); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	f.clock.Advance(time.Millisecond)

	err := f.svc.CheckActive(ctx, tok)
	if !errors.Is(err, ErrSessionNotFound) || !errs.IsAuthorization(err) {
		t.Fatalf("CheckActive after kill: %v", err)
	}
}
