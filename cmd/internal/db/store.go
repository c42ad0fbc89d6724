package db

import (
	"context"
	"fmt"
)

// Store is the document database handle.
//
// Requirements:
//   - Peek returns a snapshot the caller may freely modify.
//   - Mutate applies fn to a private copy and commits it atomically; if fn
//     returns an error nothing is written.
//   - Concurrent Mutate calls are serialized.
type Store interface {
	Peek(ctx context.Context) (Model, error)
	Mutate(ctx context.Context, fn func(*Model) error) error
	Close() error
}

func applyMutation(cur Model, fn func(*Model) error) (Model, error) {
	next, err := cur.Clone()
	if err != nil {
		return Model{}, err
	}
	if err := fn(&next); err != nil {
		return Model{}, err
	}
	next.normalize()
	return next, nil
}

func seedOrEmpty(seed *Model) (Model, error) {
	if seed == nil {
		m := Model{}
		m.normalize()
		return m, nil
	}
	m, err := seed.Clone()
	if err != nil {
		return Model{}, fmt.Errorf("seed: %w", err)
	}
	return m, nil
}
