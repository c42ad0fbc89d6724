package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v1 "startd/shared/contracts/rpc/v1"
)

// fakeServer answers the session RPCs the CLI uses.
type fakeServer struct {
	t        *testing.T
	password string
	token    string

	lastKill []string
	cookies  []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req v1.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode: %v", err)
		return
	}
	c, _ := r.Cookie(sessionCookie)
	if c != nil {
		f.cookies = append(f.cookies, c.Value)
	}

	resp := v1.Response{JSONRPC: v1.Version, ID: req.ID}
	fail := func(kind string) {
		resp.Error = &v1.Error{Code: 8, Message: "Password Incorrect", Data: &v1.ErrorData{Kind: kind}}
	}
	authed := c != nil && c.Value == f.token

	switch req.Method {
	case v1.MethodAuthLogin:
		var p v1.LoginParams
		_ = json.Unmarshal(req.Params, &p)
		if p.Password != f.password {
			fail("authorization")
			break
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: f.token, Path: "/", Expires: time.Now().Add(time.Hour)})
	case v1.MethodAuthLogout:
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	case v1.MethodSessionList:
		if !authed {
			fail("authorization")
			break
		}
		ua := "startd-cli"
		resp.Result, _ = json.Marshal(v1.SessionList{
			Current: "bbb",
			Sessions: map[string]v1.SessionInfo{
				"bbb": {LoggedIn: time.Unix(100, 0), LastActive: time.Unix(200, 0), UserAgent: &ua, Metadata: json.RawMessage(`{}`)},
				"aaa": {LoggedIn: time.Unix(50, 0), LastActive: time.Unix(60, 0)},
			},
		})
	case v1.MethodSessionKill:
		var p v1.KillParams
		_ = json.Unmarshal(req.Params, &p)
		f.lastKill = p.IDs
		resp.Result, _ = json.Marshal(v1.KillResult{Killed: p.IDs[:1]})
	default:
		resp.Error = &v1.Error{Code: v1.CodeMethodNotFound, Message: "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func setup(t *testing.T) (*fakeServer, string, []string) {
	t.Helper()
	f := &fakeServer{t: t, password: "hunter22", token: "raw-token-1"}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)

	cookie := filepath.Join(t.TempDir(), "cfg", "cookie")
	return f, cookie, []string{"-host", ts.URL, "-cookie-file", cookie}
}

func run(t *testing.T, c *CLI, base []string, args ...string) error {
	t.Helper()
	return c.Run(context.Background(), append(append([]string{}, base...), args...))
}

func TestLoginStoresCookieAndLogoutRemovesIt(t *testing.T) {
	f, cookie, base := setup(t)
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, &out)

	if err := run(t, c, base, "login", "-password", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}
	b, err := os.ReadFile(cookie)
	if err != nil || strings.TrimSpace(string(b)) != f.token {
		t.Fatalf("cookie file=%q err=%v", b, err)
	}
	st, _ := os.Stat(cookie)
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("cookie mode=%v", st.Mode().Perm())
	}

	if err := run(t, c, base, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(cookie); !os.IsNotExist(err) {
		t.Fatalf("cookie file must be removed after logout: %v", err)
	}
	if len(f.cookies) != 1 || f.cookies[0] != f.token {
		t.Fatalf("logout must present the stored cookie: %v", f.cookies)
	}
}

func TestLoginPromptsWhenPasswordOmitted(t *testing.T) {
	_, _, base := setup(t)

	c := New(strings.NewReader("hunter22\n"), &bytes.Buffer{}, &bytes.Buffer{})
	if err := run(t, c, base, "login"); err != nil {
		t.Fatalf("login via stdin: %v", err)
	}

	prompted := false
	c.readPassword = func() (string, error) { prompted = true; return "wrong", nil }
	err := run(t, c, base, "login")
	if !prompted {
		t.Fatalf("expected prompt")
	}
	var rpcErr *v1.Error
	if !errors.As(err, &rpcErr) || rpcErr.Message != "Password Incorrect" {
		t.Fatalf("err=%v", err)
	}
	if got := ExitCode(err); got != 8 {
		t.Fatalf("ExitCode=%d want authorization code", got)
	}
}

func TestSessionList(t *testing.T) {
	_, _, base := setup(t)
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, &bytes.Buffer{})

	if err := run(t, c, base, "login", "-password", "hunter22"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := run(t, c, base, "session", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header + 2 rows, got %q", out.String())
	}
	if !strings.Contains(lines[0], "LAST ACTIVE") {
		t.Fatalf("header=%q", lines[0])
	}
	if !strings.Contains(lines[1], "aaa") || !strings.Contains(lines[1], "N/A") {
		t.Fatalf("row 1=%q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "startd-cli") {
		t.Fatalf("current row=%q", lines[2])
	}

	out.Reset()
	if err := run(t, c, base, "session", "list", "-format", "json"); err != nil {
		t.Fatalf("list json: %v", err)
	}
	var list v1.SessionList
	if err := json.Unmarshal(out.Bytes(), &list); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if list.Current != "bbb" || len(list.Sessions) != 2 {
		t.Fatalf("list=%+v", list)
	}
}

func TestSessionKill(t *testing.T) {
	f, _, base := setup(t)
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out, &bytes.Buffer{})

	if err := run(t, c, base, "session", "kill", "aaa, bbb", "ccc"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if strings.Join(f.lastKill, ",") != "aaa,bbb,ccc" {
		t.Fatalf("sent ids=%v", f.lastKill)
	}
	if strings.TrimSpace(out.String()) != "aaa" {
		t.Fatalf("output=%q", out.String())
	}
}

func TestUsageErrors(t *testing.T) {
	_, _, base := setup(t)
	c := New(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})

	for _, args := range [][]string{
		{},
		{"bogus"},
		{"session"},
		{"session", "kill"},
		{"session", "list", "-format", "xml"},
	} {
		err := run(t, c, base, args...)
		if !errors.Is(err, ErrUsage) || ExitCode(err) != 2 {
			t.Fatalf("args=%v err=%v", args, err)
		}
	}
}
