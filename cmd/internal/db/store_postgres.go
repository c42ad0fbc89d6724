package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"startd/cmd/internal/errs"
)

const documentName = "main"

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore keeps the document as a single jsonb row.
//
// Mutations run in a transaction holding a row lock (SELECT ... FOR UPDATE),
// which serializes writers across processes sharing the database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, schema string, seed *Model) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("db: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "startd"
	}
	if !pgIdentRE.MatchString(schema) {
		return nil, errors.New("db: invalid schema identifier")
	}

	st := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "documents"}.Sanitize(),
	}
	if err := st.initSchema(ctx, schema, seed); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) initSchema(ctx context.Context, schema string, seed *Model) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			name       TEXT PRIMARY KEY,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	doc, err := seedOrEmpty(seed)
	if err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (name, body) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		documentName, body,
	)
	return err
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Peek(ctx context.Context) (Model, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM `+s.table+` WHERE name = $1`, documentName).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Model{}, errs.New("db.peek", errs.ErrNotFound, "document missing")
		}
		return Model{}, errs.Wrap("db.peek", errs.ErrDatabase, err)
	}
	return decodeBody(body)
}

func (s *PostgresStore) Mutate(ctx context.Context, fn func(*Model) error) error {
	const op = "db.mutate"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var body []byte
	if err := tx.QueryRow(ctx,
		`SELECT body FROM `+s.table+` WHERE name = $1 FOR UPDATE`, documentName,
	).Scan(&body); err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}
	cur, err := decodeBody(body)
	if err != nil {
		return err
	}

	next, err := applyMutation(cur, fn)
	if err != nil {
		return err
	}
	out, err := json.Marshal(next)
	if err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table+` SET body = $2, updated_at = now() WHERE name = $1`,
		documentName, out,
	); err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}
	return nil
}

func decodeBody(body []byte) (Model, error) {
	var m Model
	if err := json.Unmarshal(body, &m); err != nil {
		return Model{}, errs.Wrap("db.decode", errs.ErrDatabase, err)
	}
	m.normalize()
	return m, nil
}
