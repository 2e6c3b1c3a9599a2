package report

import (
	"context"
	"time"

	"liquidity-router/internal/storage"
)

// Generator produces execution reports from stored fills.
type Generator struct {
	fills storage.FillStore
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator.
func NewGenerator(fills storage.FillStore) *Generator {
	return &Generator{
		fills: fills,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report over fills completed within [startMs, endMs].
func (g *Generator) Generate(ctx context.Context, startMs, endMs int64) (*Report, error) {
	fills, err := g.fills.GetByTimeRange(ctx, startMs, endMs)
	if err != nil {
		return nil, err
	}
	return Build(fills, startMs, endMs, g.now()), nil
}
