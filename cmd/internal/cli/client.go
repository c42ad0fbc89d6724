package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	v1 "startd/shared/contracts/rpc/v1"
)

const sessionCookie = "session"

// Client calls the JSON-RPC endpoint and keeps the session cookie in a file
// between invocations.
type Client struct {
	BaseURL    string
	CookieFile string
	HTTP       *http.Client

	nextID atomic.Int64
}

// Call invokes method with params and decodes the result into out (which may
// be nil). A JSON-RPC error is returned as *v1.Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	req := v1.Request{
		JSONRPC: v1.Version,
		ID:      json.RawMessage(fmt.Sprint(c.nextID.Add(1))),
		Method:  method,
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = b
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+v1.Path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "startd-cli")

	raw, err := c.loadCookie()
	if err != nil {
		return err
	}
	if raw != "" {
		httpReq.AddCookie(&http.Cookie{Name: sessionCookie, Value: raw})
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.storeCookies(resp.Cookies()); err != nil {
		return err
	}

	var rpcResp v1.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: http %d: %w", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) loadCookie() (string, error) {
	if c.CookieFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.CookieFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// storeCookies persists a fresh session cookie and removes the file when the
// server expires it.
func (c *Client) storeCookies(cookies []*http.Cookie) error {
	if c.CookieFile == "" {
		return nil
	}
	for _, ck := range cookies {
		if ck.Name != sessionCookie {
			continue
		}
		if ck.MaxAge < 0 || ck.Value == "" || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now())) {
			if err := os.Remove(c.CookieFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(c.CookieFile), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(c.CookieFile, []byte(ck.Value+"\n"), 0o600); err != nil {
			return err
		}
	}
	return nil
}
