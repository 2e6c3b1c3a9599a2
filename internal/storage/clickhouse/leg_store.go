package clickhouse

import (
	"context"
	"fmt"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/storage"
)

// LegAnalyticsStore implements storage.LegAnalyticsStore using ClickHouse.
type LegAnalyticsStore struct {
	conn *Conn
}

// NewLegAnalyticsStore creates a new LegAnalyticsStore.
func NewLegAnalyticsStore(conn *Conn) *LegAnalyticsStore {
	return &LegAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LegAnalyticsStore = (*LegAnalyticsStore)(nil)

// InsertBatch adds multiple leg records.
func (s *LegAnalyticsStore) InsertBatch(ctx context.Context, legs []*domain.LegRecord) error {
	if len(legs) == 0 {
		return nil
	}
	for _, leg := range legs {
		if leg == nil || leg.FillID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO fill_legs (
			fill_id, leg_index, kind, adapter_id,
			ceiling_tick, given, received, realized_tick, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare fill_legs batch: %w", err)
	}

	for _, leg := range legs {
		err := batch.Append(
			leg.FillID,
			int32(leg.LegIndex),
			leg.Kind,
			leg.AdapterID,
			leg.CeilingTick,
			leg.Given,
			leg.Received,
			leg.RealizedTick,
			leg.TimestampMs,
		)
		if err != nil {
			return fmt.Errorf("append fill leg: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send fill_legs batch: %w", err)
	}
	return nil
}

// GetByFillID retrieves all legs of one fill, ordered by leg index.
func (s *LegAnalyticsStore) GetByFillID(ctx context.Context, fillID string) ([]*domain.LegRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			fill_id, leg_index, kind, adapter_id,
			ceiling_tick, given, received, realized_tick, timestamp_ms
		FROM fill_legs
		WHERE fill_id = ?
		ORDER BY leg_index ASC
	`, fillID)
	if err != nil {
		return nil, fmt.Errorf("get legs by fill id: %w", err)
	}
	defer rows.Close()

	var legs []*domain.LegRecord
	for rows.Next() {
		var leg domain.LegRecord
		var legIndex int32
		if err := rows.Scan(
			&leg.FillID, &legIndex, &leg.Kind, &leg.AdapterID,
			&leg.CeilingTick, &leg.Given, &leg.Received, &leg.RealizedTick, &leg.TimestampMs,
		); err != nil {
			return nil, fmt.Errorf("scan fill leg: %w", err)
		}
		leg.LegIndex = int(legIndex)
		legs = append(legs, &leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill legs: %w", err)
	}
	return legs, nil
}
