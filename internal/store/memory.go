package store

import "sync"

// MemoryStore is an in-memory store (not persisted).
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]float64
	archived map[string]int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]float64),
		archived: make(map[string]int),
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set saves a value and counts archived writes per key.
func (s *MemoryStore) Set(key string, value float64, archive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	if archive {
		s.archived[key]++
	}
	return nil
}

// ArchivedWrites returns how many writes to key carried the archive flag.
func (s *MemoryStore) ArchivedWrites(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archived[key]
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
