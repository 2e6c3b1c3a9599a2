// Package limitswap implements the venue adapter for a single-quote
// venue: a constant-product pool with a native price-limit execution
// primitive. The limit is enforced by the venue itself, so no sizing
// search is needed on the adapter side.
package limitswap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/tick"
	"liquidity-router/internal/venue"
)

// routingData is the payload this venue expects.
type routingData struct {
	Pool       string `json:"pool"`
	DeadlineMs int64  `json:"deadline_ms,omitempty"`
}

// Pool is one constant-product pool. Tokens are held in canonical
// order: Token0 is the lexicographically smaller address. Reserves live
// on the ledger under the pool account.
type Pool struct {
	ID      string
	Account string
	Token0  string
	Token1  string
	FeeBps  uint32
}

// matches reports whether the pool trades the market's pair.
func (p *Pool) matches(m domain.MarketKey) bool {
	return (p.Token0 == m.SellToken && p.Token1 == m.BuyToken) ||
		(p.Token0 == m.BuyToken && p.Token1 == m.SellToken)
}

// Venue is the adapter plus its pool set.
type Venue struct {
	account string
	ledger  *ledger.Ledger
	now     func() time.Time

	mu    sync.RWMutex
	pools map[string]*Pool
}

// New creates a limitswap venue settling through the given account.
func New(l *ledger.Ledger, account string) *Venue {
	return &Venue{
		account: account,
		ledger:  l,
		now:     time.Now,
		pools:   make(map[string]*Pool),
	}
}

// Compile-time interface check.
var _ venue.Adapter = (*Venue)(nil)

// AddPool registers a pool. Tokens are stored in canonical order.
func (v *Venue) AddPool(id, account, tokenA, tokenB string, feeBps uint32) (*Pool, error) {
	if feeBps >= 10_000 {
		return nil, fmt.Errorf("%w: fee %d bps", venue.ErrBadRoutingData, feeBps)
	}
	t0, t1 := tokenA, tokenB
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	p := &Pool{ID: id, Account: account, Token0: t0, Token1: t1, FeeBps: feeBps}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.pools[id] = p
	return p, nil
}

// ID returns the venue's ledger account and registry identity.
func (v *Venue) ID() string { return v.account }

// Swap executes against the selected pool with the venue's native
// limit-price primitive: the trade ceiling is fee-adjusted, converted
// into the pool's canonical tick orientation and enforced on the curve.
// A quote that would still breach maxTick after rounding fails instead
// of settling.
func (v *Venue) Swap(ctx context.Context, invoker string, market domain.MarketKey, amountAvailable uint64, maxTick domain.Tick, data venue.RoutingData) error {
	var rd routingData
	if err := json.Unmarshal(data, &rd); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrBadRoutingData, err)
	}
	if rd.DeadlineMs > 0 && v.now().UnixMilli() > rd.DeadlineMs {
		return venue.ErrDeadlineExpired
	}

	v.mu.RLock()
	pool, ok := v.pools[rd.Pool]
	v.mu.RUnlock()
	if !ok || !pool.matches(market) {
		return fmt.Errorf("%w: %q", venue.ErrUnknownPool, rd.Pool)
	}

	feeAdjusted, err := tick.AdjustForFee(maxTick, pool.FeeBps)
	if err != nil {
		return err
	}
	nativeLimit := tick.ConvertAcrossConvention(market.SellToken, market.BuyToken, feeAdjusted)

	used, out, err := v.quoteWithLimit(pool, market, amountAvailable, nativeLimit, maxTick)
	if err != nil {
		return err
	}
	if used == 0 {
		// Nothing executable under the limit: return all funds.
		return v.ledger.Transfer(market.SellToken, v.account, invoker, amountAvailable)
	}

	// The pool already sized against the ceiling; fail outright rather
	// than settle if that guarantee is ever broken.
	if !tick.WithinCeiling(used, out, maxTick) {
		return venue.ErrLimitUnreachable
	}

	if err := v.ledger.Transfer(market.SellToken, v.account, pool.Account, used); err != nil {
		return err
	}
	if err := v.ledger.Transfer(market.BuyToken, pool.Account, v.account, out); err != nil {
		return err
	}
	if leftover := amountAvailable - used; leftover > 0 {
		if err := v.ledger.Transfer(market.SellToken, v.account, invoker, leftover); err != nil {
			return err
		}
	}
	return v.ledger.Transfer(market.BuyToken, v.account, invoker, out)
}

// backoffSteps bounds the size reduction loop compensating integer
// rounding after the analytic limit sizing.
const backoffSteps = 64

// quoteWithLimit sizes a swap so the average curve price stays at or
// below the native limit and the fee-inclusive realized tick stays at
// or below the trade ceiling. Returns used (fee-inclusive input) and
// out; (0, 0) when no size qualifies.
func (v *Venue) quoteWithLimit(pool *Pool, market domain.MarketKey, amountIn uint64, nativeLimit, ceiling domain.Tick) (uint64, uint64, error) {
	reserveIn := v.ledger.Balance(market.SellToken, pool.Account)
	reserveOut := v.ledger.Balance(market.BuyToken, pool.Account)
	if reserveIn == 0 || reserveOut == 0 {
		return 0, 0, venue.ErrNoLiquidity
	}

	// Orient the canonical limit back into the trade direction.
	curveLimit := tick.ConvertAcrossConvention(market.SellToken, market.BuyToken, nativeLimit)
	limitPrice, err := tick.Price(curveLimit)
	if err != nil {
		return 0, 0, err
	}

	keepBps := uint64(10_000 - pool.FeeBps)
	ri := decimal.NewFromUint64(reserveIn)
	ro := decimal.NewFromUint64(reserveOut)

	// Average curve price for curve input x is (ri + x) / ro.
	xMax := limitPrice.Mul(ro).Sub(ri).Floor()
	if !xMax.IsPositive() {
		return 0, 0, nil
	}

	x := amountIn * keepBps / 10_000
	if bound := xMax.BigInt(); bound.IsUint64() && bound.Uint64() < x {
		x = bound.Uint64()
	}

	// Floor-rounded output and ceil-rounded gross input can push the
	// realized price a fraction of a tick past the limit; shrink the
	// size until the executed pair fits the ceiling.
	for step := 0; x > 0 && step < backoffSteps; step++ {
		xd := decimal.NewFromUint64(x)
		out := ro.Mul(xd).DivRound(ri.Add(xd), 18).Floor()
		if out.IsPositive() {
			used := xd.Mul(decimal.NewFromInt(10_000)).
				DivRound(decimal.NewFromInt(int64(keepBps)), 18).Ceil()
			usedU := used.BigInt().Uint64()
			if usedU > amountIn {
				usedU = amountIn
			}
			outU := out.BigInt().Uint64()
			if tick.WithinCeiling(usedU, outU, ceiling) {
				return usedU, outU, nil
			}
		}
		x -= max(1, x/backoffSteps)
	}
	return 0, 0, nil
}
