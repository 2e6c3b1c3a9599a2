package registry

import (
	"context"
	"sort"
	"sync"

	"liquidity-router/internal/domain"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AdapterRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*domain.AdapterRecord)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Put inserts or replaces a record.
func (s *MemoryStore) Put(_ context.Context, rec *domain.AdapterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.data[rec.AdapterID] = &cp
	return nil
}

// Get retrieves a record by adapter ID.
func (s *MemoryStore) Get(_ context.Context, adapterID string) (*domain.AdapterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[adapterID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, adapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[adapterID]; !ok {
		return ErrNotFound
	}
	delete(s.data, adapterID)
	return nil
}

// List returns all records ordered by adapter ID.
func (s *MemoryStore) List(_ context.Context) ([]*domain.AdapterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.AdapterRecord, 0, len(s.data))
	for _, rec := range s.data {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out, nil
}
