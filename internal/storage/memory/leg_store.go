package memory

import (
	"context"
	"sync"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/storage"
)

// LegAnalyticsStore is an in-memory implementation of storage.LegAnalyticsStore.
type LegAnalyticsStore struct {
	mu   sync.RWMutex
	legs []*domain.LegRecord
}

// NewLegAnalyticsStore creates a new in-memory leg analytics store.
func NewLegAnalyticsStore() *LegAnalyticsStore {
	return &LegAnalyticsStore{}
}

// Compile-time interface check.
var _ storage.LegAnalyticsStore = (*LegAnalyticsStore)(nil)

// InsertBatch adds multiple leg records.
func (s *LegAnalyticsStore) InsertBatch(_ context.Context, legs []*domain.LegRecord) error {
	if len(legs) == 0 {
		return nil
	}
	for _, leg := range legs {
		if leg == nil || leg.FillID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, leg := range legs {
		l := *leg
		if leg.RealizedTick != nil {
			v := *leg.RealizedTick
			l.RealizedTick = &v
		}
		s.legs = append(s.legs, &l)
	}
	return nil
}

// All returns a copy of every stored leg, in insertion order.
func (s *LegAnalyticsStore) All() []*domain.LegRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.LegRecord, len(s.legs))
	copy(out, s.legs)
	return out
}
