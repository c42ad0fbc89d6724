package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"startd/cmd/internal/errs"
	"startd/cmd/internal/metrics"
	"startd/cmd/security/token"
)

// PasswordVerifier checks a password against a stored encoded hash.
type PasswordVerifier interface {
	Verify(encodedHash, password string) (bool, error)
}

// PasswordHashFunc returns the account's current encoded password hash.
type PasswordHashFunc func() string

// Service implements login, logout, session listing and forced logout.
type Service struct {
	cfg      Config
	log      *slog.Logger
	store    Store
	hasher   token.Hasher
	verifier PasswordVerifier
	pwHash   PasswordHashFunc
	sockets  *OpenWebSockets
	throttle *loginThrottle
	now      func() time.Time

	touchMu   sync.Mutex
	lastTouch map[string]time.Time
}

type Option func(*Service)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHasher sets the token hasher (default: plain SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService wires a Service. sockets is shared with the WebSocket transport.
func NewService(cfg Config, store Store, verifier PasswordVerifier, pwHash PasswordHashFunc, sockets *OpenWebSockets, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		log:       slog.Default(),
		store:     store,
		verifier:  verifier,
		pwHash:    pwHash,
		sockets:   sockets,
		throttle:  newLoginThrottle(cfg.LoginFailMax, cfg.LoginFailWindow),
		now:       func() time.Time { return time.Now().UTC() },
		lastTouch: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Hasher exposes the token hasher so transports can resolve cookies.
func (s *Service) Hasher() token.Hasher { return s.hasher }

// LoginInput carries the client-supplied login fields plus request facts.
type LoginInput struct {
	Password   string
	Metadata   any
	UserAgent  string
	RemoteAddr string
}

// Login verifies the account password and opens a new session.
// The returned token's Cookie must be sent back to the client.
func (s *Service) Login(ctx context.Context, in LoginInput) (HashedToken, error) {
	const op = "auth.login"
	now := s.now()
	key := clientKey(in.RemoteAddr)

	if blocked, retry := s.throttle.check(key, now); blocked {
		metrics.LoginsTotal.WithLabelValues("throttled").Inc()
		s.log.Warn("auth.login.throttled", "remote", key, "retry_after", retry)
		return HashedToken{}, LoginRateLimitError{RetryAfter: retry}
	}

	ok, err := s.verifier.Verify(s.pwHash(), in.Password)
	if err != nil || !ok {
		s.throttle.fail(key, now)
		metrics.LoginsTotal.WithLabelValues("fail").Inc()
		if err != nil {
			s.log.Error("auth.login.hash_invalid", "err", err)
		}
		s.log.Warn("auth.login.fail", "remote", key)
		return HashedToken{}, ErrPasswordIncorrect
	}

	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return HashedToken{}, errs.Wrap(op, errs.ErrDatabase, err)
	}

	tok, err := NewToken(s.hasher)
	if err != nil {
		return HashedToken{}, errs.Wrap(op, errs.ErrUnknown, err)
	}

	var ua *string
	if v := strings.TrimSpace(in.UserAgent); v != "" {
		ua = &v
	}
	if err := s.store.Create(ctx, now, tok.Hashed(), ua, string(meta)); err != nil {
		return HashedToken{}, err
	}

	s.throttle.reset(key)
	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.log.Info("auth.login.ok", "session", tok, "remote", key)
	return tok, nil
}

// Logout ends the session carried by r and returns the ids it ended (at
// most one). A request without a usable cookie is a successful no-op, as is
// logging out an already-ended session.
func (s *Service) Logout(ctx context.Context, r *http.Request) ([]string, error) {
	tok, err := TokenFromRequest(s.hasher, r)
	if err != nil {
		return nil, nil
	}
	return s.Kill(ctx, []string{tok.Hashed()})
}

// List returns every active session, marking the caller's as current.
func (s *Service) List(ctx context.Context, r *http.Request) (SessionList, error) {
	tok, err := TokenFromRequest(s.hasher, r)
	if err != nil {
		return SessionList{}, err
	}

	rows, err := s.store.ListActive(ctx, s.now())
	if err != nil {
		return SessionList{}, err
	}

	out := SessionList{Current: tok.Hashed(), Sessions: make(map[string]Session, len(rows))}
	for _, row := range rows {
		sess, err := toSession(row)
		if err != nil {
			return SessionList{}, err
		}
		out.Sessions[row.ID] = sess
	}
	return out, nil
}

// Kill logs out every listed session in one store transaction, then closes
// their WebSockets. Unknown or already-ended ids are skipped. It returns the
// ids that were actually ended.
func (s *Service) Kill(ctx context.Context, ids []string) ([]string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	ended, err := s.store.Kill(ctx, s.now(), ids)
	if err != nil {
		return nil, err
	}

	// Sockets are closed for every requested id, ended now or earlier.
	closed := 0
	for _, id := range ids {
		closed += s.sockets.CloseAll(id)
		s.forgetTouch(id)
	}

	metrics.SessionsKilledTotal.Add(float64(len(ended)))
	if len(ended) > 0 || closed > 0 {
		s.log.Info("auth.session.kill", "ended", len(ended), "requested", len(ids), "sockets_closed", closed)
	}
	return ended, nil
}

// Authenticate resolves r's cookie to an active session and bumps its
// last_active timestamp at most once per TouchInterval.
func (s *Service) Authenticate(ctx context.Context, r *http.Request) (HashedToken, error) {
	tok, err := TokenFromRequest(s.hasher, r)
	if err != nil {
		return HashedToken{}, err
	}

	now := s.now()
	if _, err := s.store.GetActive(ctx, now, tok.Hashed()); err != nil {
		return HashedToken{}, err
	}

	if s.shouldTouch(tok.Hashed(), now) {
		if err := s.store.Touch(ctx, now, tok.Hashed()); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("auth.session.touch_failed", "session", tok, "err", err)
		}
	}
	return tok, nil
}

// CheckActive reports whether tok still names an active session, without
// touching it. It fails with ErrSessionNotFound once the session is killed.
func (s *Service) CheckActive(ctx context.Context, tok HashedToken) error {
	_, err := s.store.GetActive(ctx, s.now(), tok.Hashed())
	return err
}

func (s *Service) shouldTouch(id string, now time.Time) bool {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()

	if last, ok := s.lastTouch[id]; ok && now.Sub(last) < s.cfg.TouchInterval {
		return false
	}
	s.lastTouch[id] = now
	return true
}

func (s *Service) forgetTouch(id string) {
	s.touchMu.Lock()
	delete(s.lastTouch, id)
	s.touchMu.Unlock()
}

func clientKey(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
