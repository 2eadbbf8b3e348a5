package state

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Values are stored encoded so
// callers never share mutable state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get decodes the value under key into out.
func (m *MemoryStore) Get(_ context.Context, key string, out interface{}) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return true, decode(data, out)
}

// Save stores value under key.
func (m *MemoryStore) Save(ctx context.Context, key string, value interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return m.Remove(ctx, key)
	}

	data, err := encode(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = data
	return nil
}

// Remove deletes key.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns all stored keys.
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.values), nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Clear removes all values.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string][]byte)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
