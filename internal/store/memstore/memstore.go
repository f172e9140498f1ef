// Package memstore implements store.Store entirely in memory. It exists for
// unit tests and single-process experiments: full transactional rollback,
// the same typed errors and version semantics as the relational backend,
// none of the infrastructure.
//
// Concurrency model: one writer at a time. BeginWrite takes the store-wide
// write lock and snapshots the state; Commit publishes and releases,
// Rollback restores the snapshot and releases. Reads on the pool path take
// the read lock per operation.
package memstore

import (
	"context"
	"sync"
	"time"

	"catalog.evalgo.org/internal/store"
)

var (
	_ store.Store   = (*Store)(nil)
	_ store.ReadTx  = (*readTx)(nil)
	_ store.WriteTx = (*writeTx)(nil)
)

// Store is the in-memory backend.
type Store struct {
	mu sync.RWMutex
	st *state

	// Clock is the time source, swappable by tests.
	Clock func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		st:    newState(),
		Clock: time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.Clock().UTC()
}

// BeginRead returns a read handle. Reads do not pin a snapshot; each
// operation observes the latest committed state, matching read-committed.
func (s *Store) BeginRead(ctx context.Context) (store.ReadTx, error) {
	return &readTx{s: s}, nil
}

// BeginWrite locks out every other writer until Commit or Rollback.
func (s *Store) BeginWrite(ctx context.Context) (store.WriteTx, error) {
	s.mu.Lock()
	return &writeTx{s: s, undo: s.st.clone()}, nil
}

type readTx struct {
	s *Store
}

func (t *readTx) Rollback(ctx context.Context) error { return nil }

type writeTx struct {
	s    *Store
	undo *state
	done bool
}

func (t *writeTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}

func (t *writeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.st = t.undo
	t.undo = nil
	t.s.mu.Unlock()
	return nil
}
