package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"startd/cmd/internal/errs"
)

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore implements Store on PostgreSQL (<schema>.session).
// It does not own the pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates the session table if missing and returns the store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "startd"
	}
	if !pgIdentRE.MatchString(schema) {
		return nil, errors.New("session: invalid schema identifier")
	}

	s := &PostgresStore{pool: pool, table: pgx.Identifier{schema, "session"}.Sanitize()}

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id          TEXT PRIMARY KEY,
			logged_in   TIMESTAMPTZ NOT NULL,
			last_active TIMESTAMPTZ NOT NULL,
			logged_out  TIMESTAMPTZ,
			user_agent  TEXT,
			metadata    TEXT NOT NULL DEFAULT 'null'
		)`,
	}
	for _, q := range stmts {
		if _, err := pool.Exec(ctx, q); err != nil {
			return nil, fmt.Errorf("init session schema: %w", err)
		}
	}
	return s, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Create(ctx context.Context, now time.Time, id string, userAgent *string, metadata string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (id, logged_in, last_active, logged_out, user_agent, metadata)
		VALUES ($1, $2, $2, NULL, $3, $4)
	`, id, now, userAgent, metadata)
	return errs.Wrap("session.create", errs.ErrDatabase, err)
}

func (s *PostgresStore) GetActive(ctx context.Context, now time.Time, id string) (Row, error) {
	var r Row
	err := s.pool.QueryRow(ctx, `
		SELECT id, logged_in, last_active, logged_out, user_agent, metadata
		FROM `+s.table+`
		WHERE id = $1 AND (logged_out IS NULL OR logged_out > $2)
	`, id, now).Scan(&r.ID, &r.LoggedIn, &r.LastActive, &r.LoggedOut, &r.UserAgent, &r.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, errs.Wrap("session.get", errs.ErrDatabase, err)
	}
	return r, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, now time.Time) ([]Row, error) {
	const op = "session.list"

	rows, err := s.pool.Query(ctx, `
		SELECT id, logged_in, last_active, logged_out, user_agent, metadata
		FROM `+s.table+`
		WHERE logged_out IS NULL OR logged_out > $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Row, error) {
		var r Row
		err := row.Scan(&r.ID, &r.LoggedIn, &r.LastActive, &r.LoggedOut, &r.UserAgent, &r.Metadata)
		return r, err
	})
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	return out, nil
}

// Kill ends every active id with a single UPDATE ... RETURNING.
func (s *PostgresStore) Kill(ctx context.Context, now time.Time, ids []string) ([]string, error) {
	const op = "session.kill"

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE `+s.table+`
		SET logged_out = $2
		WHERE id = ANY($1) AND (logged_out IS NULL OR logged_out > $2)
		RETURNING id
	`, ids, now)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	ended, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errs.Wrap(op, errs.ErrDatabase, err)
	}
	return ended, nil
}

func (s *PostgresStore) Touch(ctx context.Context, now time.Time, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET last_active = $2
		WHERE id = $1 AND last_active < $2 AND (logged_out IS NULL OR logged_out > $2)
	`, id, now)
	return errs.Wrap("session.touch", errs.ErrDatabase, err)
}
