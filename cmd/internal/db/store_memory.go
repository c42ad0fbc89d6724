package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"startd/cmd/internal/errs"
)

// MemoryStore keeps the document in process memory.
// With a non-empty path every committed mutation is written through to disk
// (temp file + rename) so a crash never leaves a torn document behind.
type MemoryStore struct {
	mu   sync.RWMutex
	doc  Model
	path string
}

// NewMemoryStore loads path if it exists, otherwise starts from seed.
func NewMemoryStore(path string, seed *Model) (*MemoryStore, error) {
	s := &MemoryStore{path: path}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &s.doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			s.doc.normalize()
			return s, nil
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	doc, err := seedOrEmpty(seed)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	if err := s.persist(doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Peek(ctx context.Context) (Model, error) {
	if err := ctx.Err(); err != nil {
		return Model{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.doc.Clone()
	if err != nil {
		return Model{}, errs.Wrap("db.peek", errs.ErrDatabase, err)
	}
	return m, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, fn func(*Model) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := applyMutation(s.doc, fn)
	if err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return errs.Wrap("db.mutate", errs.ErrFilesystem, err)
	}
	s.doc = next
	return nil
}

func (s *MemoryStore) persist(m Model) error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".db-*.json")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
