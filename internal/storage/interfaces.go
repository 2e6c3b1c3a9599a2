package storage

import (
	"context"

	"liquidity-router/internal/domain"
)

// FillStore provides access to fill record storage.
type FillStore interface {
	// Insert adds a new fill with its legs. Returns ErrDuplicateKey if fill_id exists.
	Insert(ctx context.Context, f *domain.FillRecord) error

	// GetByID retrieves a fill by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, fillID string) (*domain.FillRecord, error)

	// GetByMarket retrieves all fills for a market, ordered by timestamp ASC.
	GetByMarket(ctx context.Context, market string) ([]*domain.FillRecord, error)

	// GetByTimeRange retrieves fills within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.FillRecord, error)
}

// LegAnalyticsStore records per-leg execution detail for offline
// execution-quality analysis.
type LegAnalyticsStore interface {
	// InsertBatch adds multiple leg records.
	InsertBatch(ctx context.Context, legs []*domain.LegRecord) error
}
