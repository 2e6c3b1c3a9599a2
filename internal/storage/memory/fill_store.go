package memory

import (
	"context"
	"sort"
	"sync"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/storage"
)

// FillStore is an in-memory implementation of storage.FillStore.
type FillStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FillRecord // keyed by fill_id
}

// NewFillStore creates a new in-memory fill store.
func NewFillStore() *FillStore {
	return &FillStore{
		data: make(map[string]*domain.FillRecord),
	}
}

// Compile-time interface check.
var _ storage.FillStore = (*FillStore)(nil)

// Insert adds a new fill with its legs. Returns ErrDuplicateKey if fill_id exists.
func (s *FillStore) Insert(_ context.Context, f *domain.FillRecord) error {
	if f == nil || f.FillID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[f.FillID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[f.FillID] = copyFill(f)
	return nil
}

// GetByID retrieves a fill by its ID. Returns ErrNotFound if not exists.
func (s *FillStore) GetByID(_ context.Context, fillID string) (*domain.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, exists := s.data[fillID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyFill(f), nil
}

// GetByMarket retrieves all fills for a market, ordered by timestamp ASC.
func (s *FillStore) GetByMarket(_ context.Context, market string) ([]*domain.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FillRecord
	for _, f := range s.data {
		if f.Market == market {
			result = append(result, copyFill(f))
		}
	}

	sortFills(result)
	return result, nil
}

// GetByTimeRange retrieves fills within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FillStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FillRecord
	for _, f := range s.data {
		if f.TimestampMs >= start && f.TimestampMs <= end {
			result = append(result, copyFill(f))
		}
	}

	sortFills(result)
	return result, nil
}

func copyFill(f *domain.FillRecord) *domain.FillRecord {
	cp := *f
	cp.Legs = make([]*domain.LegRecord, len(f.Legs))
	for i, leg := range f.Legs {
		l := *leg
		if leg.RealizedTick != nil {
			v := *leg.RealizedTick
			l.RealizedTick = &v
		}
		cp.Legs[i] = &l
	}
	return &cp
}

func sortFills(fills []*domain.FillRecord) {
	sort.Slice(fills, func(i, j int) bool {
		if fills[i].TimestampMs != fills[j].TimestampMs {
			return fills[i].TimestampMs < fills[j].TimestampMs
		}
		return fills[i].FillID < fills[j].FillID
	})
}
