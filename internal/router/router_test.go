package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-router/internal/book"
	"liquidity-router/internal/domain"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/registry"
	"liquidity-router/internal/storage"
	"liquidity-router/internal/tick"
	"liquidity-router/internal/venue"
)

// testAddr builds a deterministic base58 32-byte address. Account
// bytes here matter: 0x1A, 0xAD, 0x2A and 0xA1 decode to curve points
// and pass account validation; 0x04 does not.
func testAddr(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return base58.Encode(buf)
}

// outFor computes a buy amount whose implied tick is at or just below
// target for the given input.
func outFor(t *testing.T, in uint64, target domain.Tick) uint64 {
	t.Helper()
	out, err := tick.AmountOutAt(target, in)
	require.NoError(t, err)
	for {
		rt, err := tick.FromVolumes(in, out)
		require.NoError(t, err)
		if rt <= target {
			return out
		}
		out++
	}
}

type fakeAdapter struct {
	id          string
	swap        func(ctx context.Context, invoker string, market domain.MarketKey, amount uint64, maxTick domain.Tick, data venue.RoutingData) error
	calls       int
	lastCeiling domain.Tick
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Swap(ctx context.Context, invoker string, market domain.MarketKey, amount uint64, maxTick domain.Tick, data venue.RoutingData) error {
	f.calls++
	f.lastCeiling = maxTick
	return f.swap(ctx, invoker, market, amount, maxTick, data)
}

type captureStore struct {
	fills []*domain.FillRecord
}

func (s *captureStore) Insert(_ context.Context, f *domain.FillRecord) error {
	s.fills = append(s.fills, f)
	return nil
}

func (s *captureStore) GetByID(context.Context, string) (*domain.FillRecord, error) {
	return nil, storage.ErrNotFound
}

func (s *captureStore) GetByMarket(context.Context, string) ([]*domain.FillRecord, error) {
	return nil, nil
}

func (s *captureStore) GetByTimeRange(context.Context, int64, int64) ([]*domain.FillRecord, error) {
	return nil, nil
}

type captureSink struct {
	published []*domain.FillRecord
}

func (s *captureSink) Publish(f *domain.FillRecord) {
	s.published = append(s.published, f)
}

type fixture struct {
	t      *testing.T
	ledger *ledger.Ledger
	book   *book.Book
	reg    *registry.Registry
	router *Router
	store  *captureStore
	sink   *captureSink

	admin      string
	caller     string
	maker      string
	routerAcct string
	market     domain.MarketKey
	sell, buy  string

	callerStart uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:           t,
		ledger:      ledger.New(),
		admin:       testAddr(0xAD),
		caller:      testAddr(0x1A),
		maker:       testAddr(0xEE),
		routerAcct:  testAddr(0x01),
		sell:        testAddr(0x53),
		buy:         testAddr(0x42),
		store:       &captureStore{},
		sink:        &captureSink{},
		callerStart: 1_000_000,
	}

	market, err := domain.NewMarketKey(f.sell, f.buy, 10)
	require.NoError(t, err)
	f.market = market

	f.book = book.New(f.ledger, testAddr(0x02), 0)

	nop := zerolog.Nop()
	f.reg = registry.New(registry.NewMemoryStore(), f.admin, &nop)

	r, err := New(Options{
		Ledger:    f.ledger,
		Book:      f.book,
		Registry:  f.reg,
		Account:   f.routerAcct,
		Admin:     f.admin,
		FillStore: f.store,
		Sink:      f.sink,
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	require.NoError(t, err)
	f.router = r

	f.ledger.Mint(f.sell, f.caller, f.callerStart)
	f.ledger.Mint(f.buy, f.maker, 100_000_000)

	return f
}

// fillingAdapter consumes up to cap of the offered amount (the whole
// amount when cap is zero) at fillTick, paying out of its own
// inventory. It refuses when fillTick is above the offered ceiling.
func (f *fixture) fillingAdapter(idByte byte, fillTick domain.Tick, cap uint64) *fakeAdapter {
	a := &fakeAdapter{id: testAddr(idByte)}
	f.ledger.Mint(f.buy, a.id, 100_000_000)
	a.swap = func(_ context.Context, invoker string, market domain.MarketKey, amount uint64, maxTick domain.Tick, _ venue.RoutingData) error {
		if fillTick > maxTick {
			if err := f.ledger.Transfer(market.SellToken, a.id, invoker, amount); err != nil {
				return err
			}
			return venue.ErrLimitUnreachable
		}
		given := amount
		if cap > 0 && given > cap {
			given = cap
		}
		out := outFor(f.t, given, fillTick)
		if err := f.ledger.Transfer(market.BuyToken, a.id, invoker, out); err != nil {
			return err
		}
		if leftover := amount - given; leftover > 0 {
			if err := f.ledger.Transfer(market.SellToken, a.id, invoker, leftover); err != nil {
				return err
			}
		}
		return nil
	}
	return a
}

// failingAdapter errors without returning the delivered funds.
func (f *fixture) failingAdapter(idByte byte) *fakeAdapter {
	a := &fakeAdapter{id: testAddr(idByte)}
	a.swap = func(context.Context, string, domain.MarketKey, uint64, domain.Tick, venue.RoutingData) error {
		return venue.ErrNoLiquidity
	}
	return a
}

// greedyAdapter consumes everything and pays back almost nothing.
func (f *fixture) greedyAdapter(idByte byte, payback uint64) *fakeAdapter {
	a := &fakeAdapter{id: testAddr(idByte)}
	f.ledger.Mint(f.buy, a.id, 100_000_000)
	a.swap = func(_ context.Context, invoker string, market domain.MarketKey, _ uint64, _ domain.Tick, _ venue.RoutingData) error {
		if payback == 0 {
			return nil
		}
		return f.ledger.Transfer(market.BuyToken, a.id, invoker, payback)
	}
	return a
}

func (f *fixture) whitelist(a *fakeAdapter) {
	f.t.Helper()
	f.router.RegisterAdapter(a)
	require.NoError(f.t, f.reg.Add(context.Background(), f.admin, a.id))
}

func (f *fixture) restOrder(t domain.Tick, amount uint64) {
	f.t.Helper()
	_, err := f.book.Place(f.market, f.maker, t, amount, false, 0)
	require.NoError(f.t, err)
}

func (f *fixture) request(amount uint64, maxTick domain.Tick) Request {
	return Request{
		RequestID:    "req-test",
		Caller:       f.caller,
		Market:       f.market,
		AmountToSell: amount,
		MaxTick:      maxTick,
	}
}

func TestRoute_AdapterFillsWithinCeiling(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 0)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	wantOut := outFor(t, 100_000, 500)
	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, wantOut, res.Received)
	assert.Equal(t, uint64(0), res.Bounty)
	assert.Equal(t, uint64(0), res.Fee)

	assert.Equal(t, f.callerStart-100_000, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, wantOut, f.ledger.Balance(f.buy, f.caller))

	// Nothing from this request stays on the router account.
	assert.Equal(t, uint64(0), f.ledger.Balance(f.sell, f.routerAcct))
	assert.Equal(t, uint64(0), f.ledger.Balance(f.buy, f.routerAcct))
}

func TestRoute_PartialFillRemainderReturnedUnspent(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 70_000)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	wantOut := outFor(t, 70_000, 500)
	assert.Equal(t, uint64(70_000), res.Given)
	assert.Equal(t, wantOut, res.Received)

	// The book is empty, so the unfilled 30% comes back untouched.
	assert.Equal(t, f.callerStart-70_000, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, wantOut, f.ledger.Balance(f.buy, f.caller))
}

func TestRoute_EffectiveCeilingTightenedByBook(t *testing.T) {
	f := newFixture(t)
	f.restOrder(1000, 200_000)

	// The adapter would fill at tick 1100, inside the caller's 1200
	// tolerance but worse than the book's own best quote.
	a := f.fillingAdapter(0xA1, 1100, 0)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	assert.Equal(t, domain.Tick(1000), a.lastCeiling)

	// The adapter refused at 1000, so the full amount went to the book.
	wantOut, terr := tick.AmountOutAt(1000, 100_000)
	require.NoError(t, terr)
	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, wantOut, res.Received)
}

func TestRoute_CeilingEqualsCallerMaxWhenBookEmpty(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 0)
	f.whitelist(a)

	_, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	assert.Equal(t, domain.Tick(1200), a.lastCeiling)
}

func TestRoute_NotWhitelisted(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 0)
	f.router.RegisterAdapter(a) // registered but never whitelisted

	_, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: a.id})
	require.ErrorIs(t, err, ErrNotWhitelisted)

	var rerr *RouteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindConfiguration, rerr.Kind)
	assert.True(t, rerr.Fatal())

	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, uint64(0), f.ledger.Balance(f.buy, f.caller))
	assert.Equal(t, 0, a.calls)
}

func TestRoute_UnknownAdapter(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: testAddr(0xFF)})
	require.ErrorIs(t, err, ErrUnknownAdapter)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
}

func TestRoute_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 0)
	f.whitelist(a)

	_, err := f.router.Route(context.Background(), f.request(0, 1000), VenueChoice{AdapterID: a.id})
	require.ErrorIs(t, err, ErrAmountZero)

	bad := f.request(100_000, 1000)
	bad.Caller = "not-an-address"
	_, err = f.router.Route(context.Background(), bad, VenueChoice{AdapterID: a.id})
	require.Error(t, err)

	bad = f.request(100_000, 1000)
	bad.Market = domain.MarketKey{}
	_, err = f.router.Route(context.Background(), bad, VenueChoice{AdapterID: a.id})
	require.Error(t, err)
}

func TestRoute_OffCurveCallerRejected(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 0)
	f.whitelist(a)

	// Well-formed 32 bytes, but not a curve point: not a wallet key.
	bad := f.request(100_000, 1000)
	bad.Caller = testAddr(0x04)
	f.ledger.Mint(f.sell, bad.Caller, 100_000)

	_, err := f.router.Route(context.Background(), bad, VenueChoice{AdapterID: a.id})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	var rerr *RouteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindConfiguration, rerr.Kind)
	assert.Equal(t, uint64(100_000), f.ledger.Balance(f.sell, bad.Caller))
	assert.Equal(t, 0, a.calls)
}

func TestRoute_AdapterFailureFallsBackToBook(t *testing.T) {
	f := newFixture(t)
	f.restOrder(1000, 200_000)
	a := f.failingAdapter(0xA1)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	// Identical to what a book-only request would have produced.
	wantOut, terr := tick.AmountOutAt(1000, 100_000)
	require.NoError(t, terr)
	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, wantOut, res.Received)

	// The delivered funds were clawed back from the failed adapter.
	assert.Equal(t, uint64(0), f.ledger.Balance(f.sell, a.id))
	assert.Equal(t, 1, a.calls)
}

func TestRoute_PriceLimitExceededRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.restOrder(1000, 200_000)
	a := f.greedyAdapter(0xA1, 1) // keeps the input, pays back one unit
	f.whitelist(a)

	_, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.ErrorIs(t, err, ErrPriceLimitExceeded)

	var rerr *RouteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindPriceLimit, rerr.Kind)
	assert.True(t, rerr.Fatal())

	// Exactly as before the request began.
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, uint64(0), f.ledger.Balance(f.buy, f.caller))
	assert.Equal(t, uint64(0), f.ledger.Balance(f.sell, a.id))
	best, ok := f.book.BestPrice(f.market)
	require.True(t, ok)
	assert.Equal(t, domain.Tick(1000), best)
}

func TestRoute_ConsumedWithoutOutputIsFatal(t *testing.T) {
	f := newFixture(t)
	a := f.greedyAdapter(0xA1, 0) // consumes everything, returns nothing
	f.whitelist(a)

	_, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.ErrorIs(t, err, ErrPriceLimitExceeded)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
}

func TestRoute_PanickingAdapterIsRecovered(t *testing.T) {
	f := newFixture(t)
	a := &fakeAdapter{id: testAddr(0xA1)}
	a.swap = func(context.Context, string, domain.MarketKey, uint64, domain.Tick, venue.RoutingData) error {
		panic("adapter bug")
	}
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	// Empty book: nothing filled, everything returned.
	assert.Equal(t, uint64(0), res.Given)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
}

func TestRoute_ReentrantAdapterIsBlocked(t *testing.T) {
	f := newFixture(t)

	var innerErr error
	a := &fakeAdapter{id: testAddr(0xA1)}
	a.swap = func(ctx context.Context, invoker string, market domain.MarketKey, amount uint64, _ domain.Tick, _ venue.RoutingData) error {
		_, innerErr = f.router.Route(ctx, f.request(1, 1000), VenueChoice{AdapterID: a.id})
		if err := f.ledger.Transfer(market.SellToken, a.id, invoker, amount); err != nil {
			return err
		}
		return innerErr
	}
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1200), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	require.ErrorIs(t, innerErr, ErrReentrancy)
	assert.Equal(t, uint64(0), res.Given)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
}

func TestRoute_FillRecordPersistedAndPublished(t *testing.T) {
	f := newFixture(t)
	a := f.fillingAdapter(0xA1, 500, 70_000)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)

	require.Len(t, f.store.fills, 1)
	fill := f.store.fills[0]
	assert.Equal(t, res.FillID, fill.FillID)
	assert.Equal(t, "req-test", fill.RequestID)
	assert.Equal(t, f.caller, fill.Caller)
	assert.Equal(t, f.market.String(), fill.Market)
	assert.Equal(t, domain.DisciplineSingle, fill.Discipline)
	assert.Equal(t, uint64(100_000), fill.AmountIn)
	assert.Equal(t, res.Given, fill.Given)
	assert.Equal(t, res.Received, fill.Received)

	// Venue leg plus the book fallback attempt for the remainder.
	require.Len(t, fill.Legs, 2)
	assert.Equal(t, domain.LegKindVenue, fill.Legs[0].Kind)
	assert.Equal(t, a.id, fill.Legs[0].AdapterID)
	assert.Equal(t, uint64(70_000), fill.Legs[0].Given)
	require.NotNil(t, fill.Legs[0].RealizedTick)
	assert.LessOrEqual(t, *fill.Legs[0].RealizedTick, int64(500))
	assert.Equal(t, domain.LegKindBook, fill.Legs[1].Kind)
	for i, leg := range fill.Legs {
		assert.Equal(t, fill.FillID, leg.FillID)
		assert.Equal(t, i, leg.LegIndex)
	}

	require.Len(t, f.sink.published, 1)
	assert.Equal(t, fill, f.sink.published[0])
}

func TestRouteSequential_FirstFillsEverything(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.whitelist(a1)
	f.whitelist(a2)

	res, err := f.router.RouteSequential(context.Background(), f.request(100_000, 1000), []VenueChoice{
		{AdapterID: a1.id},
		{AdapterID: a2.id},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, 1, a1.calls)
	assert.Equal(t, 0, a2.calls) // nothing left to offer

	require.Len(t, f.store.fills, 1)
	legs := f.store.fills[0].Legs
	require.Len(t, legs, 2)
	assert.Equal(t, uint64(100_000), legs[0].Given)
	assert.Equal(t, uint64(0), legs[1].Given)
}

func TestRouteSequential_CascadesRemainder(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 40_000)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.whitelist(a1)
	f.whitelist(a2)

	res, err := f.router.RouteSequential(context.Background(), f.request(100_000, 1000), []VenueChoice{
		{AdapterID: a1.id},
		{AdapterID: a2.id},
	})
	require.NoError(t, err)

	wantOut := outFor(t, 40_000, 500) + outFor(t, 60_000, 600)
	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, wantOut, res.Received)
}

func TestRouteSequential_SkipsNonWhitelistedLaterAdapter(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 40_000)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	a3 := f.fillingAdapter(0xA3, 700, 0)
	f.whitelist(a1)
	f.router.RegisterAdapter(a2) // never whitelisted
	f.whitelist(a3)

	res, err := f.router.RouteSequential(context.Background(), f.request(100_000, 1000), []VenueChoice{
		{AdapterID: a1.id},
		{AdapterID: a2.id},
		{AdapterID: a3.id},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, 0, a2.calls)
	assert.Equal(t, 1, a3.calls)

	legs := f.store.fills[0].Legs
	require.Len(t, legs, 3)
	assert.Equal(t, uint64(0), legs[1].Given) // skipped, recorded as zero-filled
	assert.Equal(t, uint64(60_000), legs[2].Given)
}

func TestRouteSequential_FirstNotWhitelistedFailsFast(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.router.RegisterAdapter(a1)
	f.whitelist(a2)

	_, err := f.router.RouteSequential(context.Background(), f.request(100_000, 1000), []VenueChoice{
		{AdapterID: a1.id},
		{AdapterID: a2.id},
	})
	require.ErrorIs(t, err, ErrNotWhitelisted)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, 0, a1.calls)
	assert.Equal(t, 0, a2.calls)
}

func TestRouteSequential_EmptyList(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.RouteSequential(context.Background(), f.request(100_000, 1000), nil)
	require.ErrorIs(t, err, ErrEmptyAdapterList)
}

func TestRouteSplit_PercentagesMustSumToWhole(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.whitelist(a1)
	f.whitelist(a2)

	_, err := f.router.RouteSplit(context.Background(), f.request(100_000, 1000),
		[]VenueChoice{{AdapterID: a1.id}, {AdapterID: a2.id}},
		[]uint32{5000, 4000})
	require.ErrorIs(t, err, ErrSplitSum)

	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, 0, a1.calls)
	assert.Equal(t, 0, a2.calls)
}

func TestRouteSplit_LengthMismatch(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	f.whitelist(a1)

	_, err := f.router.RouteSplit(context.Background(), f.request(100_000, 1000),
		[]VenueChoice{{AdapterID: a1.id}},
		[]uint32{6000, 4000})
	require.ErrorIs(t, err, ErrSplitMismatch)
}

func TestRouteSplit_AllAdaptersCheckedUpFront(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.whitelist(a1)
	f.router.RegisterAdapter(a2) // never whitelisted

	_, err := f.router.RouteSplit(context.Background(), f.request(100_000, 1000),
		[]VenueChoice{{AdapterID: a1.id}, {AdapterID: a2.id}},
		[]uint32{6000, 4000})
	require.ErrorIs(t, err, ErrNotWhitelisted)

	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))
	assert.Equal(t, 0, a1.calls)
}

func TestRouteSplit_FullFillAcrossAllotments(t *testing.T) {
	f := newFixture(t)
	a1 := f.fillingAdapter(0xA1, 500, 0)
	a2 := f.fillingAdapter(0xA2, 600, 0)
	f.whitelist(a1)
	f.whitelist(a2)

	// Odd amount: the last allocation absorbs the rounding remainder.
	res, err := f.router.RouteSplit(context.Background(), f.request(100_001, 1000),
		[]VenueChoice{{AdapterID: a1.id}, {AdapterID: a2.id}},
		[]uint32{6000, 4000})
	require.NoError(t, err)

	assert.Equal(t, uint64(100_001), res.Given)

	legs := f.store.fills[0].Legs
	require.Len(t, legs, 2)
	assert.Equal(t, uint64(60_000), legs[0].Given)
	assert.Equal(t, uint64(40_001), legs[1].Given)
}

func TestRouteSplit_FailedAllotmentFallsBackToBook(t *testing.T) {
	f := newFixture(t)
	f.restOrder(800, 200_000)
	a1 := f.failingAdapter(0xA1)
	a2 := f.fillingAdapter(0xA2, 500, 0)
	f.whitelist(a1)
	f.whitelist(a2)

	res, err := f.router.RouteSplit(context.Background(), f.request(100_000, 1000),
		[]VenueChoice{{AdapterID: a1.id}, {AdapterID: a2.id}},
		[]uint32{6000, 4000})
	require.NoError(t, err)

	bookOut, terr := tick.AmountOutAt(800, 60_000)
	require.NoError(t, terr)
	wantOut := bookOut + outFor(t, 40_000, 500)
	assert.Equal(t, uint64(100_000), res.Given)
	assert.Equal(t, wantOut, res.Received)
}

func TestRecoverFunds(t *testing.T) {
	f := newFixture(t)
	stranded := testAddr(0x2A)
	f.ledger.Mint(f.sell, f.routerAcct, 5_000)

	_, err := f.router.RecoverFunds(context.Background(), f.caller, f.sell, stranded, 0)
	require.ErrorIs(t, err, ErrNotAdmin)

	// The destination must be a wallet key, not a derived account.
	_, err = f.router.RecoverFunds(context.Background(), f.admin, f.sell, testAddr(0x04), 0)
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Equal(t, uint64(5_000), f.ledger.Balance(f.sell, f.routerAcct))

	moved, err := f.router.RecoverFunds(context.Background(), f.admin, f.sell, stranded, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), moved)
	assert.Equal(t, uint64(5_000), f.ledger.Balance(f.sell, stranded))
	assert.Equal(t, uint64(0), f.ledger.Balance(f.sell, f.routerAcct))

	// Sweeping an empty balance is a no-op.
	moved, err = f.router.RecoverFunds(context.Background(), f.admin, f.sell, stranded, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), moved)
}

func TestRoute_AggregateTickWithinCallerCeiling(t *testing.T) {
	f := newFixture(t)
	f.restOrder(900, 50_000)
	a := f.fillingAdapter(0xA1, 700, 60_000)
	f.whitelist(a)

	res, err := f.router.Route(context.Background(), f.request(100_000, 1000), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)
	require.Greater(t, res.Given, uint64(0))

	agg, terr := tick.FromVolumes(res.Given, res.Received)
	require.NoError(t, terr)
	assert.LessOrEqual(t, agg, domain.Tick(1000))

	// Every executed leg stayed at or below its own ceiling.
	for _, leg := range f.store.fills[0].Legs {
		if leg.RealizedTick == nil {
			continue
		}
		assert.LessOrEqual(t, *leg.RealizedTick, leg.CeilingTick)
	}
}

func TestRoute_BookFallbackNeverSettlesPastCeiling(t *testing.T) {
	f := newFixture(t)
	f.restOrder(1000, 200_000)

	a := f.failingAdapter(0xA1)
	f.whitelist(a)

	// A tiny remainder against an order resting exactly at the caller's
	// limit would settle at tick 1054 after payout flooring. The book
	// must leave it unfilled rather than breach the ceiling.
	res, err := f.router.Route(context.Background(), f.request(10, 1000), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Given)
	assert.Equal(t, uint64(0), res.Received)
	assert.Equal(t, f.callerStart, f.ledger.Balance(f.sell, f.caller))

	for _, leg := range f.store.fills[0].Legs {
		require.Nil(t, leg.RealizedTick)
	}

	// With room above the resting price the same size fills cleanly.
	res, err = f.router.Route(context.Background(), f.request(10, 1100), VenueChoice{AdapterID: a.id})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Given)
	assert.Equal(t, uint64(9), res.Received)
	agg, terr := tick.FromVolumes(res.Given, res.Received)
	require.NoError(t, terr)
	assert.LessOrEqual(t, agg, domain.Tick(1100))
}

func TestRoute_ErrorsAreClassified(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Route(context.Background(), f.request(0, 1000), VenueChoice{AdapterID: testAddr(0xA1)})
	var rerr *RouteError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindConfiguration, rerr.Kind)
	assert.Equal(t, "configuration", rerr.Kind.String())
	assert.True(t, rerr.Fatal())
}
