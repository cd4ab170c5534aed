package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string][]byte)}
}

func (s *MemStore) Get(_ context.Context, ns, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemStore) Set(_ context.Context, ns, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[ns] == nil {
		s.data[ns] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[ns][key] = cp
	return nil
}

func (s *MemStore) Remove(_ context.Context, ns, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], key)
	return nil
}

func (s *MemStore) Keys(_ context.Context, ns string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[ns]))
	for k := range s.data[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
