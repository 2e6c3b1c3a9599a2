// Package report summarizes execution quality from stored fills:
// per-market volumes, blended realized prices, and how much flow the
// resident book absorbed versus external venues.
package report

import (
	"sort"
	"time"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/tick"
)

// MarketRow aggregates fills for one (market, discipline) pair.
type MarketRow struct {
	Market     string
	Discipline string

	Fills       int    // completed requests
	AmountIn    uint64 // total sell amount requested
	Given       uint64 // total sell amount consumed
	Received    uint64 // total buy amount delivered
	Bounty      uint64 // penalties forwarded to callers
	Fee         uint64 // taker fees paid to the book
	VenueVolume uint64 // sell volume filled by external venues
	BookVolume  uint64 // sell volume filled by the resident book

	// BlendedTick is the realized tick across all fills in the row,
	// computed from total volumes. Nil when nothing filled.
	BlendedTick *int64
}

// FillRate is Given/AmountIn, the share of requested volume that found
// liquidity. Zero when nothing was requested.
func (r *MarketRow) FillRate() float64 {
	if r.AmountIn == 0 {
		return 0
	}
	return float64(r.Given) / float64(r.AmountIn)
}

// Report is a summary of execution quality over a time window.
type Report struct {
	GeneratedAt time.Time
	StartMs     int64
	EndMs       int64

	TotalFills int
	Rows       []MarketRow // sorted by market, then discipline
}

// Build aggregates fill records into a report. The caller supplies the
// window bounds; records outside them are assumed already filtered.
func Build(fills []*domain.FillRecord, startMs, endMs int64, now time.Time) *Report {
	rows := make(map[[2]string]*MarketRow)

	for _, f := range fills {
		key := [2]string{f.Market, f.Discipline}
		row := rows[key]
		if row == nil {
			row = &MarketRow{Market: f.Market, Discipline: f.Discipline}
			rows[key] = row
		}

		row.Fills++
		row.AmountIn += f.AmountIn
		row.Given += f.Given
		row.Received += f.Received
		row.Bounty += f.Bounty
		row.Fee += f.Fee
		for _, leg := range f.Legs {
			switch leg.Kind {
			case domain.LegKindBook:
				row.BookVolume += leg.Given
			default:
				row.VenueVolume += leg.Given
			}
		}
	}

	out := make([]MarketRow, 0, len(rows))
	for _, row := range rows {
		if row.Given > 0 && row.Received > 0 {
			if t, err := tick.FromVolumes(row.Given, row.Received); err == nil {
				v := int64(t)
				row.BlendedTick = &v
			}
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].Discipline < out[j].Discipline
	})

	return &Report{
		GeneratedAt: now,
		StartMs:     startMs,
		EndMs:       endMs,
		TotalFills:  len(fills),
		Rows:        out,
	}
}
