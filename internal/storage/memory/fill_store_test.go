package memory

import (
	"context"
	"errors"
	"testing"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/storage"
)

func sampleFill(fillID, market string, ts int64) *domain.FillRecord {
	rt := int64(500)
	return &domain.FillRecord{
		FillID:      fillID,
		RequestID:   "req-" + fillID,
		Caller:      "CallerAddr",
		Market:      market,
		Discipline:  domain.DisciplineSingle,
		MaxTick:     1000,
		AmountIn:    100_000,
		Given:       100_000,
		Received:    95_000,
		TimestampMs: ts,
		Legs: []*domain.LegRecord{
			{
				FillID:       fillID,
				LegIndex:     0,
				Kind:         domain.LegKindVenue,
				AdapterID:    "AdapterAddr",
				CeilingTick:  1000,
				Given:        100_000,
				Received:     95_000,
				RealizedTick: &rt,
				TimestampMs:  ts,
			},
		},
	}
}

func TestFillStore_InsertAndGet(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	f := sampleFill("fill-1", "A/B:10", 1000)
	if err := s.Insert(ctx, f); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.GetByID(ctx, "fill-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FillID != "fill-1" || got.Given != 100_000 {
		t.Errorf("GetByID() = %+v, want fill-1 with given 100000", got)
	}
	if len(got.Legs) != 1 || got.Legs[0].Kind != domain.LegKindVenue {
		t.Errorf("GetByID() legs = %+v, want one venue leg", got.Legs)
	}
}

func TestFillStore_InsertDuplicate(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	f := sampleFill("fill-1", "A/B:10", 1000)
	if err := s.Insert(ctx, f); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := s.Insert(ctx, f); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Insert() duplicate error = %v, want ErrDuplicateKey", err)
	}
}

func TestFillStore_InsertInvalid(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	if err := s.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Insert(nil) error = %v, want ErrInvalidInput", err)
	}
	if err := s.Insert(ctx, &domain.FillRecord{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Insert(empty id) error = %v, want ErrInvalidInput", err)
	}
}

func TestFillStore_GetByIDNotFound(t *testing.T) {
	s := NewFillStore()

	_, err := s.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestFillStore_GetByMarket(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	_ = s.Insert(ctx, sampleFill("fill-2", "A/B:10", 2000))
	_ = s.Insert(ctx, sampleFill("fill-1", "A/B:10", 1000))
	_ = s.Insert(ctx, sampleFill("fill-3", "C/D:10", 1500))

	got, err := s.GetByMarket(ctx, "A/B:10")
	if err != nil {
		t.Fatalf("GetByMarket() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByMarket() returned %d fills, want 2", len(got))
	}
	if got[0].FillID != "fill-1" || got[1].FillID != "fill-2" {
		t.Errorf("GetByMarket() order = %s, %s; want fill-1, fill-2", got[0].FillID, got[1].FillID)
	}
}

func TestFillStore_GetByTimeRange(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	_ = s.Insert(ctx, sampleFill("fill-1", "A/B:10", 1000))
	_ = s.Insert(ctx, sampleFill("fill-2", "A/B:10", 2000))
	_ = s.Insert(ctx, sampleFill("fill-3", "A/B:10", 3000))

	got, err := s.GetByTimeRange(ctx, 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByTimeRange() returned %d fills, want 2", len(got))
	}
}

func TestFillStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewFillStore()
	ctx := context.Background()

	f := sampleFill("fill-1", "A/B:10", 1000)
	_ = s.Insert(ctx, f)

	// Mutating the inserted record must not affect the stored copy.
	f.Given = 0
	f.Legs[0].Given = 0

	got, _ := s.GetByID(ctx, "fill-1")
	if got.Given != 100_000 || got.Legs[0].Given != 100_000 {
		t.Errorf("stored fill was mutated through the caller's pointer")
	}

	// Mutating a read result must not affect subsequent reads.
	got.Legs[0].Given = 0
	again, _ := s.GetByID(ctx, "fill-1")
	if again.Legs[0].Given != 100_000 {
		t.Errorf("stored fill was mutated through a read result")
	}
}

func TestLegAnalyticsStore_InsertBatch(t *testing.T) {
	s := NewLegAnalyticsStore()
	ctx := context.Background()

	f := sampleFill("fill-1", "A/B:10", 1000)
	if err := s.InsertBatch(ctx, f.Legs); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := s.InsertBatch(ctx, nil); err != nil {
		t.Fatalf("InsertBatch(nil) error = %v", err)
	}
	if err := s.InsertBatch(ctx, []*domain.LegRecord{{}}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("InsertBatch(missing fill_id) error = %v, want ErrInvalidInput", err)
	}

	if got := s.All(); len(got) != 1 {
		t.Errorf("All() returned %d legs, want 1", len(got))
	}
}
