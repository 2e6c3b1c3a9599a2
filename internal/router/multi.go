package router

import (
	"context"
	"fmt"

	"liquidity-router/internal/domain"
)

// bpsDenominator is the fixed-proportion split scale: 10000 = 100%.
const bpsDenominator = 10000

// RouteSequential fills the request through a list of adapters in
// priority order: the first adapter is offered the entire amount, each
// subsequent adapter whatever remains. The first adapter must be
// whitelisted up front so an all-unusable list fails before any funds
// move; later non-whitelisted adapters are skipped and recorded as
// zero-filled. Any amount left after the last adapter goes to the book.
func (r *Router) RouteSequential(ctx context.Context, req Request, choices []VenueChoice) (*domain.RouteResult, error) {
	if !r.guard.TryAcquire() {
		return r.abortReentrant(domain.DisciplineSequential)
	}
	defer r.guard.Release()

	if rerr := r.validate(req); rerr != nil {
		return r.reject(domain.DisciplineSequential, rerr)
	}
	if len(choices) == 0 {
		return r.reject(domain.DisciplineSequential, configErr(ErrEmptyAdapterList))
	}
	for _, c := range choices {
		if _, ok := r.adapters[c.AdapterID]; !ok {
			return r.reject(domain.DisciplineSequential, configErr(fmt.Errorf("%w: %s", ErrUnknownAdapter, c.AdapterID)))
		}
	}
	if _, rerr := r.adapterFor(ctx, choices[0].AdapterID); rerr != nil {
		return r.reject(domain.DisciplineSequential, rerr)
	}

	plan := func(ctx context.Context, ceiling domain.Tick, ts int64) ([]*domain.LegRecord, *RouteError) {
		legs := make([]*domain.LegRecord, 0, len(choices))
		remaining := req.AmountToSell

		for i, c := range choices {
			skip := remaining == 0
			if !skip && i > 0 {
				listed, err := r.registry.IsWhitelisted(ctx, c.AdapterID)
				if err != nil {
					return nil, configErr(fmt.Errorf("whitelist lookup for %s: %w", c.AdapterID, err))
				}
				skip = !listed
			}
			if skip {
				legs = append(legs, zeroVenueLeg(c.AdapterID, ceiling, ts))
				continue
			}

			leg, rerr := r.venueLeg(ctx, r.adapters[c.AdapterID], req.Market, remaining, ceiling, c.Data, ts)
			if rerr != nil {
				if rerr.Fatal() {
					return nil, rerr
				}
				leg = r.recoverVenueLeg(c.AdapterID, ceiling, ts, rerr)
			}
			remaining -= leg.Given
			legs = append(legs, leg)
		}
		return legs, nil
	}

	return r.run(ctx, req, domain.DisciplineSequential, plan)
}

// RouteSplit fills the request by splitting it across adapters in fixed
// proportions expressed in basis points. The percentages must sum to
// exactly 100% and every adapter must be whitelisted, both checked
// before any funds move. The last allocation absorbs the rounding
// remainder. Unconsumed sub-amounts fall back to the book together.
func (r *Router) RouteSplit(ctx context.Context, req Request, choices []VenueChoice, bps []uint32) (*domain.RouteResult, error) {
	if !r.guard.TryAcquire() {
		return r.abortReentrant(domain.DisciplineSplit)
	}
	defer r.guard.Release()

	if rerr := r.validate(req); rerr != nil {
		return r.reject(domain.DisciplineSplit, rerr)
	}
	if len(choices) == 0 {
		return r.reject(domain.DisciplineSplit, configErr(ErrEmptyAdapterList))
	}
	if len(choices) != len(bps) {
		return r.reject(domain.DisciplineSplit, configErr(ErrSplitMismatch))
	}
	var sum uint64
	for _, b := range bps {
		sum += uint64(b)
	}
	if sum != bpsDenominator {
		return r.reject(domain.DisciplineSplit, configErr(fmt.Errorf("%w: got %d bps", ErrSplitSum, sum)))
	}
	for _, c := range choices {
		if _, rerr := r.adapterFor(ctx, c.AdapterID); rerr != nil {
			return r.reject(domain.DisciplineSplit, rerr)
		}
	}

	plan := func(ctx context.Context, ceiling domain.Tick, ts int64) ([]*domain.LegRecord, *RouteError) {
		legs := make([]*domain.LegRecord, 0, len(choices))
		var allocated uint64

		for i, c := range choices {
			alloc := splitAllocation(req.AmountToSell, bps[i])
			if i == len(choices)-1 {
				alloc = req.AmountToSell - allocated
			}
			allocated += alloc

			if alloc == 0 {
				legs = append(legs, zeroVenueLeg(c.AdapterID, ceiling, ts))
				continue
			}

			leg, rerr := r.venueLeg(ctx, r.adapters[c.AdapterID], req.Market, alloc, ceiling, c.Data, ts)
			if rerr != nil {
				if rerr.Fatal() {
					return nil, rerr
				}
				leg = r.recoverVenueLeg(c.AdapterID, ceiling, ts, rerr)
			}
			legs = append(legs, leg)
		}
		return legs, nil
	}

	return r.run(ctx, req, domain.DisciplineSplit, plan)
}

// splitAllocation computes floor(amount * bps / 10000) without overflow.
func splitAllocation(amount uint64, bps uint32) uint64 {
	q, rem := amount/bpsDenominator, amount%bpsDenominator
	return q*uint64(bps) + rem*uint64(bps)/bpsDenominator
}
