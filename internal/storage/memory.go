package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory storage backend.
type MemoryStorage struct {
	records map[string][]byte
	writes  int
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string][]byte),
	}
}

// Load retrieves a copy of the record for owner.
func (m *MemoryStorage) Load(ctx context.Context, owner string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, owner)
	}
	return append([]byte(nil), data...), nil
}

// Store keeps a copy of data as owner's record.
func (m *MemoryStorage) Store(ctx context.Context, owner string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[owner] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Delete removes owner's record.
func (m *MemoryStorage) Delete(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, owner)
	return nil
}

// Owners lists accounts with a record, sorted.
func (m *MemoryStorage) Owners(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owners := make([]string, 0, len(m.records))
	for owner := range m.records {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// Close closes the storage backend.
func (m *MemoryStorage) Close() error {
	return nil
}

// Writes returns the number of successful Store calls.
func (m *MemoryStorage) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
