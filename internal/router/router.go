// Package router implements the routing engine: it fills a sell order
// by sourcing liquidity from external venue adapters and the resident
// order book, while guaranteeing the blended execution price never
// exceeds the caller's ceiling. Each request is one all-or-nothing
// unit of work.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/idhash"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/observability"
	"liquidity-router/internal/storage"
	"liquidity-router/internal/tick"
	"liquidity-router/internal/venue"
)

// OrderBook is the resident matching engine as seen by the router.
type OrderBook interface {
	// BestPrice returns the tick of the best resting order, if any.
	BestPrice(market domain.MarketKey) (domain.Tick, bool)

	// ExecuteAtLimit fills up to amount against resting orders priced
	// at or below maxTick. Partial fills are not an error.
	ExecuteAtLimit(market domain.MarketKey, maxTick domain.Tick, amount uint64, taker string) (domain.BookExecution, error)

	// Snapshot returns a closure restoring the book to its current state.
	Snapshot() func()
}

// Whitelist answers adapter trust queries. Default-deny.
type Whitelist interface {
	IsWhitelisted(ctx context.Context, adapterID string) (bool, error)
}

// FillSink receives completed fill records, e.g. for live streaming.
type FillSink interface {
	Publish(f *domain.FillRecord)
}

// Options configures a Router.
type Options struct {
	Ledger   *ledger.Ledger
	Book     OrderBook
	Registry Whitelist

	// Account is the router's own ledger account. Funds in flight are
	// owned by this account for the duration of one request.
	Account string

	// Admin may trigger emergency fund recovery.
	Admin string

	Logger    *zerolog.Logger
	Metrics   *observability.Metrics
	FillStore storage.FillStore
	LegStore  storage.LegAnalyticsStore
	Sink      FillSink

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Router orchestrates trades across venue adapters plus book fallback.
type Router struct {
	ledger   *ledger.Ledger
	book     OrderBook
	registry Whitelist
	account  string
	admin    string

	adapters map[string]venue.Adapter

	logger  *zerolog.Logger
	metrics *observability.Metrics
	fills   storage.FillStore
	legs    storage.LegAnalyticsStore
	sink    FillSink
	now     func() time.Time

	guard guard
}

// New creates a Router from options. Ledger, Book, Registry and a valid
// router account are required.
func New(opts Options) (*Router, error) {
	if opts.Ledger == nil || opts.Book == nil || opts.Registry == nil {
		return nil, errors.New("router: ledger, book and registry are required")
	}
	if err := domain.ValidateAddress(opts.Account); err != nil {
		return nil, fmt.Errorf("router account: %w", err)
	}
	if opts.Admin != "" {
		if err := domain.ValidateAccountAddress(opts.Admin); err != nil {
			return nil, fmt.Errorf("admin account: %w", err)
		}
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Router{
		ledger:   opts.Ledger,
		book:     opts.Book,
		registry: opts.Registry,
		account:  opts.Account,
		admin:    opts.Admin,
		adapters: make(map[string]venue.Adapter),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		fills:    opts.FillStore,
		legs:     opts.LegStore,
		sink:     opts.Sink,
		now:      opts.Now,
	}, nil
}

// RegisterAdapter wires an adapter implementation into the router.
// Registration is plumbing, not trust: the adapter is still rejected at
// use time unless its identity is whitelisted in the registry.
func (r *Router) RegisterAdapter(a venue.Adapter) {
	r.adapters[a.ID()] = a
}

// Request describes one routing request.
type Request struct {
	// RequestID correlates the request in records and logs. Generated
	// when empty.
	RequestID string

	// Caller owns the sell tokens and receives the proceeds.
	Caller string

	Market       domain.MarketKey
	AmountToSell uint64

	// MaxTick is the most adverse tick the caller tolerates across all
	// legs of execution.
	MaxTick domain.Tick
}

// VenueChoice selects one adapter plus its opaque routing payload.
type VenueChoice struct {
	AdapterID string
	Data      venue.RoutingData
}

// Route fills the request through exactly one adapter, with the
// unconsumed remainder falling back to the book.
//
// 1. Compute the effective ceiling offered to the venue: the caller's
//    maxTick, tightened to the book's best resting tick when one
//    exists. The venue must never charge more than the book would.
// 2. Deliver the full amount to the adapter and invoke it.
// 3. Measure given and received strictly from the router's balance
//    deltas. Adapter-declared amounts are never trusted.
// 4. A realized tick above the ceiling aborts the whole request; an
//    adapter that fails internally is recovered and its amount is
//    redirected to the book.
// 5. Execute the remainder against the book at the caller's original
//    maxTick, then return unused input, output and bounty to the caller.
func (r *Router) Route(ctx context.Context, req Request, choice VenueChoice) (*domain.RouteResult, error) {
	if !r.guard.TryAcquire() {
		return r.abortReentrant(domain.DisciplineSingle)
	}
	defer r.guard.Release()

	if rerr := r.validate(req); rerr != nil {
		return r.reject(domain.DisciplineSingle, rerr)
	}
	a, rerr := r.adapterFor(ctx, choice.AdapterID)
	if rerr != nil {
		return r.reject(domain.DisciplineSingle, rerr)
	}

	plan := func(ctx context.Context, ceiling domain.Tick, ts int64) ([]*domain.LegRecord, *RouteError) {
		leg, rerr := r.venueLeg(ctx, a, req.Market, req.AmountToSell, ceiling, choice.Data, ts)
		if rerr != nil {
			if rerr.Fatal() {
				return nil, rerr
			}
			leg = r.recoverVenueLeg(a.ID(), ceiling, ts, rerr)
		}
		return []*domain.LegRecord{leg}, nil
	}

	return r.run(ctx, req, domain.DisciplineSingle, plan)
}

// venuePlan executes the venue legs of one discipline and returns their
// records. The remainder after all venue legs falls back to the book.
type venuePlan func(ctx context.Context, ceiling domain.Tick, ts int64) ([]*domain.LegRecord, *RouteError)

// run is the shared unit-of-work skeleton: snapshot, pull caller funds,
// execute venue legs, book fallback, reconcile, record. Any fatal error
// restores ledger and book to their pre-request state.
func (r *Router) run(ctx context.Context, req Request, discipline string, plan venuePlan) (*domain.RouteResult, error) {
	ledgerSnap := r.ledger.Snapshot()
	restoreBook := r.book.Snapshot()
	rollback := func() {
		r.ledger.Restore(ledgerSnap)
		restoreBook()
	}

	if err := r.ledger.Transfer(req.Market.SellToken, req.Caller, r.account, req.AmountToSell); err != nil {
		return r.reject(discipline, configErr(fmt.Errorf("pulling caller funds: %w", err)))
	}

	ceiling := r.effectiveCeiling(req)
	ts := r.now().UnixMilli()

	legs, rerr := plan(ctx, ceiling, ts)
	if rerr != nil {
		rollback()
		return r.reject(discipline, rerr)
	}

	res := &domain.RouteResult{}
	for _, leg := range legs {
		res.Given += leg.Given
		res.Received += leg.Received
	}

	if remainder := req.AmountToSell - res.Given; remainder > 0 {
		exec, err := r.book.ExecuteAtLimit(req.Market, req.MaxTick, remainder, r.account)
		if err != nil {
			rollback()
			return r.reject(discipline, configErr(fmt.Errorf("book fallback: %w", err)))
		}
		legs = append(legs, bookLeg(exec, req.MaxTick, ts))
		res.Given += exec.Given
		res.Received += exec.Received
		res.Bounty = exec.Bounty
		res.Fee = exec.Fee
		if r.metrics != nil && exec.Given > 0 {
			r.metrics.FillsTotal.WithLabelValues(domain.LegKindBook).Inc()
			r.metrics.RoutedVolume.WithLabelValues(domain.LegKindBook).Add(float64(exec.Given))
			r.metrics.BookFallbackVolume.Add(float64(exec.Given))
		}
	}

	if rerr := r.reconcile(req, res); rerr != nil {
		rollback()
		return r.reject(discipline, rerr)
	}

	r.finish(ctx, req, discipline, legs, res, ts)
	return res, nil
}

// validate checks request shape. No funds move on failure.
func (r *Router) validate(req Request) *RouteError {
	if req.AmountToSell == 0 {
		return configErr(ErrAmountZero)
	}
	if err := req.Market.Validate(); err != nil {
		return configErr(err)
	}
	if err := domain.ValidateAccountAddress(req.Caller); err != nil {
		return configErr(fmt.Errorf("caller: %w", err))
	}
	return nil
}

// adapterFor resolves an adapter ID to a registered, whitelisted
// implementation.
func (r *Router) adapterFor(ctx context.Context, adapterID string) (venue.Adapter, *RouteError) {
	a, ok := r.adapters[adapterID]
	if !ok {
		return nil, configErr(fmt.Errorf("%w: %s", ErrUnknownAdapter, adapterID))
	}
	listed, err := r.registry.IsWhitelisted(ctx, adapterID)
	if err != nil {
		return nil, configErr(fmt.Errorf("whitelist lookup for %s: %w", adapterID, err))
	}
	if !listed {
		return nil, configErr(fmt.Errorf("%w: %s", ErrNotWhitelisted, adapterID))
	}
	return a, nil
}

// effectiveCeiling tightens the caller's maxTick to the book's best
// resting tick when the book has one. A venue must never be offered a
// ceiling worse than the book's own best quote.
func (r *Router) effectiveCeiling(req Request) domain.Tick {
	ceiling := req.MaxTick
	if best, ok := r.book.BestPrice(req.Market); ok && best < ceiling {
		ceiling = best
	}
	return ceiling
}

// venueLeg runs one adapter call and measures its outcome from the
// router account's balance deltas. The adapter's ledger state is rolled
// back when the call errors; price-limit violations are returned as
// fatal for the caller to roll back the whole request.
func (r *Router) venueLeg(ctx context.Context, a venue.Adapter, market domain.MarketKey, amount uint64, ceiling domain.Tick, data venue.RoutingData, ts int64) (*domain.LegRecord, *RouteError) {
	legSnap := r.ledger.Snapshot()

	if err := r.ledger.Transfer(market.SellToken, r.account, a.ID(), amount); err != nil {
		return nil, configErr(fmt.Errorf("delivering funds to adapter %s: %w", a.ID(), err))
	}

	sellBefore := r.ledger.Balance(market.SellToken, r.account)
	buyBefore := r.ledger.Balance(market.BuyToken, r.account)

	start := r.now()
	err := callAdapter(ctx, a, r.account, market, amount, ceiling, data)
	if r.metrics != nil {
		r.metrics.AdapterSwapDuration.WithLabelValues(a.ID()).Observe(r.now().Sub(start).Seconds())
	}
	if err != nil {
		r.ledger.Restore(legSnap)
		return nil, venueErr(fmt.Errorf("adapter %s: %w", a.ID(), err))
	}

	leftover := r.ledger.Balance(market.SellToken, r.account) - sellBefore
	if leftover > amount {
		// An adapter returning more input than it was given is a
		// donation; it never counts against the caller's amount.
		leftover = amount
	}
	given := amount - leftover
	received := r.ledger.Balance(market.BuyToken, r.account) - buyBefore

	leg := &domain.LegRecord{
		Kind:        domain.LegKindVenue,
		AdapterID:   a.ID(),
		CeilingTick: int64(ceiling),
		Given:       given,
		Received:    received,
		TimestampMs: ts,
	}
	if given == 0 {
		return leg, nil
	}
	if received == 0 {
		return nil, priceLimitErr(fmt.Errorf("%w: adapter %s consumed %d and returned nothing", ErrPriceLimitExceeded, a.ID(), given))
	}
	realized, terr := tick.FromVolumes(given, received)
	if terr != nil || realized > ceiling {
		return nil, priceLimitErr(fmt.Errorf("%w: adapter %s settled at tick %d, ceiling %d", ErrPriceLimitExceeded, a.ID(), realized, ceiling))
	}

	rt := int64(realized)
	leg.RealizedTick = &rt
	if r.metrics != nil {
		r.metrics.FillsTotal.WithLabelValues(domain.LegKindVenue).Inc()
		r.metrics.RoutedVolume.WithLabelValues(domain.LegKindVenue).Add(float64(given))
	}
	return leg, nil
}

// callAdapter invokes Swap with panic containment. A panicking adapter
// is indistinguishable from one returning an error.
func callAdapter(ctx context.Context, a venue.Adapter, invoker string, market domain.MarketKey, amount uint64, ceiling domain.Tick, data venue.RoutingData) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panicked: %v", rec)
		}
	}()
	return a.Swap(ctx, invoker, market, amount, ceiling, data)
}

// recoverVenueLeg absorbs a recoverable venue failure: the leg is
// recorded as zero-filled and its amount stays available downstream.
func (r *Router) recoverVenueLeg(adapterID string, ceiling domain.Tick, ts int64, rerr *RouteError) *domain.LegRecord {
	r.logger.Warn().
		Str("adapter", adapterID).
		Err(rerr.Err).
		Msg("venue execution failed, redirecting amount downstream")
	if r.metrics != nil {
		r.metrics.VenueErrorsRecovered.Inc()
	}
	return zeroVenueLeg(adapterID, ceiling, ts)
}

func zeroVenueLeg(adapterID string, ceiling domain.Tick, ts int64) *domain.LegRecord {
	return &domain.LegRecord{
		Kind:        domain.LegKindVenue,
		AdapterID:   adapterID,
		CeilingTick: int64(ceiling),
		TimestampMs: ts,
	}
}

func bookLeg(exec domain.BookExecution, ceiling domain.Tick, ts int64) *domain.LegRecord {
	leg := &domain.LegRecord{
		Kind:        domain.LegKindBook,
		CeilingTick: int64(ceiling),
		Given:       exec.Given,
		Received:    exec.Received,
		TimestampMs: ts,
	}
	if exec.Given > 0 && exec.Received > 0 {
		if t, err := tick.FromVolumes(exec.Given, exec.Received); err == nil {
			v := int64(t)
			leg.RealizedTick = &v
		}
	}
	return leg
}

// reconcile returns unused input, output tokens and bounty to the
// caller. After it returns the router account holds nothing belonging
// to this request.
func (r *Router) reconcile(req Request, res *domain.RouteResult) *RouteError {
	if unused := req.AmountToSell - res.Given; unused > 0 {
		if err := r.ledger.Transfer(req.Market.SellToken, r.account, req.Caller, unused); err != nil {
			return configErr(fmt.Errorf("returning unused input: %w", err))
		}
	}
	if payout := res.Received + res.Bounty; payout > 0 {
		if err := r.ledger.Transfer(req.Market.BuyToken, r.account, req.Caller, payout); err != nil {
			return configErr(fmt.Errorf("paying out proceeds: %w", err))
		}
	}
	return nil
}

// finish assembles and records the fill. Persistence and streaming are
// best effort: the trade has already settled and is never unwound for a
// bookkeeping failure.
func (r *Router) finish(ctx context.Context, req Request, discipline string, legs []*domain.LegRecord, res *domain.RouteResult, ts int64) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	fillID := idhash.ComputeFillID(requestID, req.Caller, req.Market.String(), discipline, int64(req.MaxTick), req.AmountToSell, ts)

	for i, leg := range legs {
		leg.FillID = fillID
		leg.LegIndex = i
	}

	fill := &domain.FillRecord{
		FillID:      fillID,
		RequestID:   requestID,
		Caller:      req.Caller,
		Market:      req.Market.String(),
		Discipline:  discipline,
		MaxTick:     int64(req.MaxTick),
		AmountIn:    req.AmountToSell,
		Given:       res.Given,
		Received:    res.Received,
		Bounty:      res.Bounty,
		Fee:         res.Fee,
		TimestampMs: ts,
		Legs:        legs,
	}

	res.FillID = fillID
	res.RequestID = requestID

	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(discipline, "ok").Inc()
	}

	if r.fills != nil {
		if err := r.fills.Insert(ctx, fill); err != nil {
			if r.metrics != nil {
				r.metrics.FillStoreErrors.Inc()
			}
			r.logger.Error().Err(err).Str("fill_id", fillID).Msg("failed to persist fill record")
		}
	}
	if r.legs != nil {
		if err := r.legs.InsertBatch(ctx, legs); err != nil {
			if r.metrics != nil {
				r.metrics.FillStoreErrors.Inc()
			}
			r.logger.Error().Err(err).Str("fill_id", fillID).Msg("failed to persist leg analytics")
		}
	}
	if r.sink != nil {
		r.sink.Publish(fill)
	}

	r.logger.Info().
		Str("fill_id", fillID).
		Str("request_id", requestID).
		Str("market", fill.Market).
		Str("discipline", discipline).
		Uint64("given", res.Given).
		Uint64("received", res.Received).
		Uint64("bounty", res.Bounty).
		Uint64("fee", res.Fee).
		Msg("routing request filled")
}

// reject counts and logs a failed request.
func (r *Router) reject(discipline string, rerr *RouteError) (*domain.RouteResult, error) {
	if r.metrics != nil {
		r.metrics.RequestsTotal.WithLabelValues(discipline, rerr.Kind.String()).Inc()
		if rerr.Kind == KindPriceLimit {
			r.metrics.PriceLimitRejections.Inc()
		}
	}
	r.logger.Warn().
		Str("discipline", discipline).
		Str("kind", rerr.Kind.String()).
		Err(rerr.Err).
		Msg("routing request rejected")
	return nil, rerr
}

func (r *Router) abortReentrant(discipline string) (*domain.RouteResult, error) {
	if r.metrics != nil {
		r.metrics.ReentrancyAborts.Inc()
	}
	return r.reject(discipline, reentrancyErr())
}
