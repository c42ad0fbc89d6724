package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when STARTD_TEST_DATABASE_URL is set.

func TestPostgresStore_Lifecycle(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("STARTD_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: STARTD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	var b [6]byte
	_, _ = rand.Read(b[:])
	schema := "startd_it_" + hex.EncodeToString(b[:])
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	st, err := NewPostgresStore(ctx, pool, schema)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	ua := "firefox"
	if err := st.Create(ctx, now, "a", &ua, `{"platforms":["web"]}`); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := st.Create(ctx, now, "b", nil, `null`); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	row, err := st.GetActive(ctx, now, "a")
	if err != nil || row.UserAgent == nil || *row.UserAgent != ua {
		t.Fatalf("GetActive: row=%+v err=%v", row, err)
	}

	ended, err := st.Kill(ctx, now.Add(time.Second), []string{"a", "missing"})
	if err != nil || len(ended) != 1 || ended[0] != "a" {
		t.Fatalf("Kill: ended=%v err=%v", ended, err)
	}

	later := now.Add(2 * time.Second)
	if _, err := st.GetActive(ctx, later, "a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	rows, err := st.ListActive(ctx, later)
	if err != nil || len(rows) != 1 || rows[0].ID != "b" {
		t.Fatalf("ListActive: rows=%+v err=%v", rows, err)
	}
}
