package objectstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory blob store, used by tests and local runs.
// It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]struct{}
	deleted map[string]int
	failing map[string]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:   make(map[string]struct{}),
		deleted: make(map[string]int),
		failing: make(map[string]error),
	}
}

// Put registers a blob.
func (m *MemoryStore) Put(networkFileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[networkFileID] = struct{}{}
}

// Has reports whether the blob is still stored.
func (m *MemoryStore) Has(networkFileID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[networkFileID]
	return ok
}

// DeleteCount reports how many delete calls reached the blob.
func (m *MemoryStore) DeleteCount(networkFileID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deleted[networkFileID]
}

// FailDeletes makes every delete of networkFileID return err until cleared
// with a nil err.
func (m *MemoryStore) FailDeletes(networkFileID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, networkFileID)
		return
	}
	m.failing[networkFileID] = err
}

// DeleteBlob removes the blob; missing blobs are not an error.
func (m *MemoryStore) DeleteBlob(ctx context.Context, networkFileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := objectKey("", networkFileID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if failure, ok := m.failing[key]; ok {
		return failure
	}
	delete(m.blobs, key)
	m.deleted[key]++
	return nil
}
