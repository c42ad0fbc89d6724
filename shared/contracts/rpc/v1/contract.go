// Package v1 is the JSON-RPC 2.0 wire contract served at POST /rpc/v1.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = "2.0"
	Path    = "/rpc/v1"

	MethodAuthLogin           = "auth.login"
	MethodAuthLogout          = "auth.logout"
	MethodSessionList         = "auth.session.list"
	MethodSessionKill         = "auth.session.kill"
	MethodServerTime          = "server.time"
	MethodServerMetrics       = "server.metrics"
	MethodServerMetricsFollow = "server.metrics.follow"
	MethodDBDump              = "db.dump"
)

// Protocol-level error codes. Application errors use the positive codes of
// their error kind.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeRateLimited    = -32000
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %q", r.JSONRPC)
	}
	if r.Method == "" {
		return errors.New("missing method")
	}
	return nil
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil && e.Data.Kind != "" {
		return fmt.Sprintf("rpc error %d (%s): %s", e.Code, e.Data.Kind, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type ErrorData struct {
	Kind              string `json:"kind"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

type LoginParams struct {
	Password string          `json:"password"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type KillParams struct {
	IDs []string `json:"ids"`
}

type KillResult struct {
	Killed []string `json:"killed"`
}

type TimeResult struct {
	Now           time.Time `json:"now"`
	UptimeSeconds int64     `json:"uptime"`
}

// ContinuationResult names the guid to present at /ws/rpc/{guid} or
// /rest/rpc/{guid}.
type ContinuationResult struct {
	Guid string `json:"guid"`
}

// SessionList is the auth.session.list result as seen by clients.
type SessionList struct {
	Current  string                 `json:"current"`
	Sessions map[string]SessionInfo `json:"sessions"`
}

type SessionInfo struct {
	LoggedIn   time.Time       `json:"logged-in"`
	LastActive time.Time       `json:"last-active"`
	UserAgent  *string         `json:"user-agent"`
	Metadata   json.RawMessage `json:"metadata"`
}
