// internal/daemon/store/memory.go
package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory KV for tests and dry runs.
type MemoryStore struct {
	items map[string]string
	// writes counts successful mutations.
	writes int
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]string),
	}
}

// GetItem retrieves a value by key.
func (s *MemoryStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// SetItem stores a value.
func (s *MemoryStore) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	s.writes++
	return nil
}

// RemoveItem deletes a key.
func (s *MemoryStore) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		delete(s.items, key)
		s.writes++
	}
	return nil
}

// CompareAndSwap replaces key under the store lock.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, prev *string, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	if prev == nil && exists {
		return false, nil
	}
	if prev != nil && (!exists || current != *prev) {
		return false, nil
	}
	s.items[key] = next
	s.writes++
	return true, nil
}

// Writes returns the number of mutations applied so far.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ KV      = (*MemoryStore)(nil)
	_ Swapper = (*MemoryStore)(nil)
)
