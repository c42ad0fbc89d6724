package session

import (
	"context"
	"encoding/json"
	"time"
)

// Row mirrors the session table.
type Row struct {
	ID         string
	LoggedIn   time.Time
	LastActive time.Time
	LoggedOut  *time.Time
	UserAgent  *string
	Metadata   string
}

// Active reports whether the row is still logged in at now.
func (r Row) Active(now time.Time) bool {
	return r.LoggedOut == nil || r.LoggedOut.After(now)
}

// Session is the client-facing view of a row.
type Session struct {
	LoggedIn   time.Time       `json:"logged-in"`
	LastActive time.Time       `json:"last-active"`
	UserAgent  *string         `json:"user-agent"`
	Metadata   json.RawMessage `json:"metadata"`
}

// SessionList is the result of listing sessions. Sessions are keyed by id and
// marshal in id order.
type SessionList struct {
	Current  string             `json:"current"`
	Sessions map[string]Session `json:"sessions"`
}

// Store persists session rows keyed by token hash.
//
// Requirements:
//   - A row is active while logged_out is NULL or later than now.
//   - Kill marks every active id in one transaction and reports which ones it ended.
//   - Ids that are unknown or already logged out are skipped silently.
type Store interface {
	Create(ctx context.Context, now time.Time, id string, userAgent *string, metadata string) error
	GetActive(ctx context.Context, now time.Time, id string) (Row, error)
	ListActive(ctx context.Context, now time.Time) ([]Row, error)
	Kill(ctx context.Context, now time.Time, ids []string) ([]string, error)
	Touch(ctx context.Context, now time.Time, id string) error
	Close() error
}

func toSession(r Row) (Session, error) {
	meta := json.RawMessage(r.Metadata)
	if !json.Valid(meta) {
		return Session{}, errInvalidMetadata
	}
	return Session{
		LoggedIn:   r.LoggedIn.UTC(),
		LastActive: r.LastActive.UTC(),
		UserAgent:  r.UserAgent,
		Metadata:   meta,
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
