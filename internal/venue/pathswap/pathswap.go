// Package pathswap implements the venue adapter for a quote-then-execute
// venue with no native price-limit parameter. The adapter sizes the
// trade itself: it quotes the full amount first and falls back to a
// bounded binary search over the input size, relying on the venue's
// price worsening monotonically with size.
package pathswap

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

// searchIterations bounds the binary search over input size.
const searchIterations = 24

// routingData is the payload this venue expects.
type routingData struct {
	Pool       string `json:"pool"`
	DeadlineMs int64  `json:"deadline_ms,omitempty"`
}

// Pool is one constant-product pool with reserves on the ledger.
type Pool struct {
	ID      string
	Account string
	Token0  string
	Token1  string
	FeeBps  uint32
}

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

// New creates a pathswap venue settling through the given account.
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

// Swap sizes and executes a trade under maxTick. If no input size
// satisfies the limit, nothing is consumed and all funds are returned.
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

	size, err := v.findSize(pool, market, amountAvailable, maxTick)
	if err != nil {
		return err
	}
	if size == 0 {
		return v.ledger.Transfer(market.SellToken, v.account, invoker, amountAvailable)
	}

	out := v.quote(pool, market, size)
	if out == 0 || !tick.WithinCeiling(size, out, maxTick) {
		return venue.ErrLimitUnreachable
	}

	if err := v.ledger.Transfer(market.SellToken, v.account, pool.Account, size); err != nil {
		return err
	}
	if err := v.ledger.Transfer(market.BuyToken, pool.Account, v.account, out); err != nil {
		return err
	}
	if leftover := amountAvailable - size; leftover > 0 {
		if err := v.ledger.Transfer(market.SellToken, v.account, invoker, leftover); err != nil {
			return err
		}
	}
	return v.ledger.Transfer(market.BuyToken, v.account, invoker, out)
}

// findSize returns the largest input size whose quoted execution stays
// at or below maxTick, or zero when none does. Full size is tried first
// so the search only runs when the limit actually binds.
func (v *Venue) findSize(pool *Pool, market domain.MarketKey, amountIn uint64, maxTick domain.Tick) (uint64, error) {
	if v.ledger.Balance(market.SellToken, pool.Account) == 0 ||
		v.ledger.Balance(market.BuyToken, pool.Account) == 0 {
		return 0, venue.ErrNoLiquidity
	}

	fits := func(size uint64) bool {
		if size == 0 {
			return false
		}
		out := v.quote(pool, market, size)
		return out > 0 && tick.WithinCeiling(size, out, maxTick)
	}

	if fits(amountIn) {
		return amountIn, nil
	}

	// Price worsens monotonically with size: bisect for the largest
	// passing input.
	var lo, hi uint64 = 0, amountIn
	for i := 0; i < searchIterations && hi-lo > 1; i++ {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// quote returns the expected output for amountIn against current
// reserves, fee deducted from input, rounded down.
func (v *Venue) quote(pool *Pool, market domain.MarketKey, amountIn uint64) uint64 {
	reserveIn := v.ledger.Balance(market.SellToken, pool.Account)
	reserveOut := v.ledger.Balance(market.BuyToken, pool.Account)
	if reserveIn == 0 || reserveOut == 0 {
		return 0
	}

	x := decimal.NewFromUint64(amountIn).
		Mul(decimal.NewFromInt(int64(10_000 - pool.FeeBps))).
		Div(decimal.NewFromInt(10_000))
	ri := decimal.NewFromUint64(reserveIn)
	ro := decimal.NewFromUint64(reserveOut)

	out := ro.Mul(x).DivRound(ri.Add(x), 18).Floor()
	if !out.IsPositive() {
		return 0
	}
	return out.BigInt().Uint64()
}
