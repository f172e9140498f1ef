// Package secrets is the boundary to the external secret store: a keyed
// opaque blob store the catalog writes storage credentials into. The real
// backend lives outside this repository; the in-memory implementation here
// exists for tests and single-process experiments.
package secrets

import (
	"context"
	"sync"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
)

// Store is the minimal contract the catalog needs: create before use,
// delete best-effort after replacement.
type Store interface {
	Create(ctx context.Context, value []byte) (ids.SecretID, error)
	Get(ctx context.Context, id ids.SecretID) ([]byte, error)
	Delete(ctx context.Context, id ids.SecretID) error
}

// Memory is the in-process fake.
type Memory struct {
	mu      sync.RWMutex
	values  map[ids.SecretID][]byte
	deleted []ids.SecretID
}

// NewMemory builds an empty store.
func NewMemory() *Memory {
	return &Memory{values: map[ids.SecretID][]byte{}}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(ctx context.Context, value []byte) (ids.SecretID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ids.NewSecretID()
	m.values[id] = append([]byte(nil), value...)
	return id, nil
}

func (m *Memory) Get(ctx context.Context, id ids.SecretID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[id]
	if !ok {
		return nil, catalogerr.ErrInternal
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Delete(ctx context.Context, id ids.SecretID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// Deleted exposes the deletion order for tests.
func (m *Memory) Deleted() []ids.SecretID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ids.SecretID(nil), m.deleted...)
}
