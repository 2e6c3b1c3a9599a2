package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/storage"
)

// FillStore implements storage.FillStore using PostgreSQL.
type FillStore struct {
	pool *Pool
}

// NewFillStore creates a new FillStore.
func NewFillStore(pool *Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FillStore = (*FillStore)(nil)

// Insert adds a new fill with its legs. Returns ErrDuplicateKey if fill_id exists.
func (s *FillStore) Insert(ctx context.Context, f *domain.FillRecord) error {
	if f == nil || f.FillID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO fills (
			fill_id, request_id, caller, market, discipline,
			max_tick, amount_in, given, received, bounty, fee, timestamp_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		)
	`,
		f.FillID, f.RequestID, f.Caller, f.Market, f.Discipline,
		f.MaxTick, int64(f.AmountIn), int64(f.Given), int64(f.Received), int64(f.Bounty), int64(f.Fee), f.TimestampMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert fill: %w", err)
	}

	for _, leg := range f.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO fill_legs (
				fill_id, leg_index, kind, adapter_id,
				ceiling_tick, given, received, realized_tick, timestamp_ms
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8, $9
			)
		`,
			f.FillID, leg.LegIndex, leg.Kind, leg.AdapterID,
			leg.CeilingTick, int64(leg.Given), int64(leg.Received), leg.RealizedTick, leg.TimestampMs,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert fill leg: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a fill by its ID. Returns ErrNotFound if not exists.
func (s *FillStore) GetByID(ctx context.Context, fillID string) (*domain.FillRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			fill_id, request_id, caller, market, discipline,
			max_tick, amount_in, given, received, bounty, fee, timestamp_ms
		FROM fills
		WHERE fill_id = $1
	`, fillID)

	f, err := scanFill(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get fill by id: %w", err)
	}

	if err := s.attachLegs(ctx, []*domain.FillRecord{f}); err != nil {
		return nil, err
	}
	return f, nil
}

// GetByMarket retrieves all fills for a market, ordered by timestamp ASC.
func (s *FillStore) GetByMarket(ctx context.Context, market string) ([]*domain.FillRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			fill_id, request_id, caller, market, discipline,
			max_tick, amount_in, given, received, bounty, fee, timestamp_ms
		FROM fills
		WHERE market = $1
		ORDER BY timestamp_ms ASC, fill_id ASC
	`, market)
	if err != nil {
		return nil, fmt.Errorf("get fills by market: %w", err)
	}
	defer rows.Close()

	fills, err := collectFills(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachLegs(ctx, fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// GetByTimeRange retrieves fills within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FillStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.FillRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			fill_id, request_id, caller, market, discipline,
			max_tick, amount_in, given, received, bounty, fee, timestamp_ms
		FROM fills
		WHERE timestamp_ms >= $1 AND timestamp_ms <= $2
		ORDER BY timestamp_ms ASC, fill_id ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("get fills by time range: %w", err)
	}
	defer rows.Close()

	fills, err := collectFills(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachLegs(ctx, fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// attachLegs loads and attaches legs for the given fills in one query.
func (s *FillStore) attachLegs(ctx context.Context, fills []*domain.FillRecord) error {
	if len(fills) == 0 {
		return nil
	}

	ids := make([]string, len(fills))
	byID := make(map[string]*domain.FillRecord, len(fills))
	for i, f := range fills {
		ids[i] = f.FillID
		byID[f.FillID] = f
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			fill_id, leg_index, kind, adapter_id,
			ceiling_tick, given, received, realized_tick, timestamp_ms
		FROM fill_legs
		WHERE fill_id = ANY($1)
		ORDER BY fill_id ASC, leg_index ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("get fill legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var leg domain.LegRecord
		var given, received int64
		if err := rows.Scan(
			&leg.FillID, &leg.LegIndex, &leg.Kind, &leg.AdapterID,
			&leg.CeilingTick, &given, &received, &leg.RealizedTick, &leg.TimestampMs,
		); err != nil {
			return fmt.Errorf("scan fill leg: %w", err)
		}
		leg.Given = uint64(given)
		leg.Received = uint64(received)
		if f, ok := byID[leg.FillID]; ok {
			f.Legs = append(f.Legs, &leg)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fill legs: %w", err)
	}
	return nil
}

func scanFill(row pgx.Row) (*domain.FillRecord, error) {
	var f domain.FillRecord
	var amountIn, given, received, bounty, fee int64
	err := row.Scan(
		&f.FillID, &f.RequestID, &f.Caller, &f.Market, &f.Discipline,
		&f.MaxTick, &amountIn, &given, &received, &bounty, &fee, &f.TimestampMs,
	)
	if err != nil {
		return nil, err
	}
	f.AmountIn = uint64(amountIn)
	f.Given = uint64(given)
	f.Received = uint64(received)
	f.Bounty = uint64(bounty)
	f.Fee = uint64(fee)
	return &f, nil
}

func collectFills(rows pgx.Rows) ([]*domain.FillRecord, error) {
	var fills []*domain.FillRecord
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fills: %w", err)
	}
	return fills, nil
}
