package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"startd/cmd/internal/errs"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session (
	id          TEXT PRIMARY KEY,
	logged_in   INTEGER NOT NULL,
	last_active INTEGER NOT NULL,
	logged_out  INTEGER,
	user_agent  TEXT,
	metadata    TEXT NOT NULL DEFAULT 'null'
);
CREATE INDEX IF NOT EXISTS idx_session_logged_out ON session (logged_out);
`

// SQLiteStore is the default Store, kept in the server's data directory.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the session database at dsn.
// ":memory:" gives a private in-process database, useful for tests.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	filePath, onDisk := sqliteFilePathFromDSN(dsn)
	if onDisk {
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create session db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	if onDisk {
		db.SetMaxOpenConns(4)
	} else {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if onDisk {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" || u.Query().Get("mode") == "memory" {
			return "", false
		}
		return path, true
	}
	return dsn, true
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, now time.Time, id string, userAgent *string, metadata string) error {
	ms := now.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, logged_in, last_active, logged_out, user_agent, metadata)
		 VALUES (?, ?, ?, NULL, ?, ?)`,
		id, ms, ms, nullString(userAgent), metadata,
	)
	return errs.Wrap("session.create", errs.ErrDatabase, err)
}

func (s *SQLiteStore) GetActive(ctx context.Context, now time.Time, id string) (Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, logged_in, last_active, logged_out, user_agent, metadata
		 FROM session
		 WHERE id = ? AND (logged_out IS NULL OR logged_out > ?)`,
		id, now.UnixMilli(),
	)
	r, err := scanSQLiteRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, errs.Wrap("session.get", errs.ErrDatabase, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context, now time.Time) ([]Row, error) {
	const op = "session.list"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, logged_in, last_active, logged_out, user_agent, metadata
		 FROM session
		 WHERE logged_out IS NULL OR logged_out > ?
		 ORDER BY id`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, errs.Wrap(op, errs.ErrDatabase, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	return out, nil
}

func (s *SQLiteStore) Kill(ctx context.Context, now time.Time, ids []string) ([]string, error) {
	const op = "session.kill"

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	ms := now.UnixMilli()
	ended := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE session SET logged_out = ?
			 WHERE id = ? AND (logged_out IS NULL OR logged_out > ?)`,
			ms, id, ms,
		)
		if err != nil {
			return nil, errs.Wrap(op, errs.ErrDatabase, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errs.Wrap(op, errs.ErrDatabase, err)
		}
		if n > 0 {
			ended = append(ended, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	return ended, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, now time.Time, id string) error {
	ms := now.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE session SET last_active = ?
		 WHERE id = ? AND last_active < ? AND (logged_out IS NULL OR logged_out > ?)`,
		ms, id, ms, ms,
	)
	return errs.Wrap("session.touch", errs.ErrDatabase, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(sc rowScanner) (Row, error) {
	var (
		r                    Row
		loggedIn, lastActive int64
		loggedOut            sql.NullInt64
		userAgent            sql.NullString
	)
	if err := sc.Scan(&r.ID, &loggedIn, &lastActive, &loggedOut, &userAgent, &r.Metadata); err != nil {
		return Row{}, err
	}
	r.LoggedIn = time.UnixMilli(loggedIn).UTC()
	r.LastActive = time.UnixMilli(lastActive).UTC()
	if loggedOut.Valid {
		t := time.UnixMilli(loggedOut.Int64).UTC()
		r.LoggedOut = &t
	}
	if userAgent.Valid {
		ua := userAgent.String
		r.UserAgent = &ua
	}
	return r, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
