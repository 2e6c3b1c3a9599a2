// Package book implements the resident limit-order book the router
// falls back to. Resting orders absorb the taker's sell token and pay
// out buy tokens escrowed at placement time.
package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"liquidity-router/internal/domain"
	"liquidity-router/internal/ledger"
	"liquidity-router/internal/tick"
)

// Book errors
var (
	ErrZeroAmount      = errors.New("book: amount must be positive")
	ErrTickNotAligned  = errors.New("book: tick not aligned to market spacing")
	ErrOrderNotFound   = errors.New("book: order not found")
	ErrNotOrderMaker   = errors.New("book: caller is not the order maker")
	ErrEscrowTooSmall  = errors.New("book: order too small to escrow any output")
	ErrTickOutOfBounds = errors.New("book: tick outside representable range")
)

// Order is a resting offer to buy the taker's sell token at a fixed tick.
type Order struct {
	OrderID   string
	Maker     string
	Tick      domain.Tick
	Remaining uint64 // sell-token capacity left to absorb

	// escrowLeft is the maker's buy-token escrow still held by the book.
	escrowLeft uint64

	// Faulty marks an order that will fail to honor its fill. Hitting it
	// removes the order and pays its bounty to the taker.
	Faulty bool
	Bounty uint64
}

// Book holds resting orders per market and escrows maker funds on the
// ledger under its own account.
type Book struct {
	mu          sync.Mutex
	ledger      *ledger.Ledger
	account     string // escrow + fee account
	takerFeeBps uint32
	markets     map[string][]*Order // keyed by MarketKey.String(), sorted by tick then age
	seq         uint64
}

// New creates an order book escrowing funds under the given account.
func New(l *ledger.Ledger, account string, takerFeeBps uint32) *Book {
	return &Book{
		ledger:      l,
		account:     account,
		takerFeeBps: takerFeeBps,
		markets:     make(map[string][]*Order),
	}
}

// Place rests a new order on the market. The maker's buy tokens for the
// full capacity, plus any failure bounty, are escrowed immediately.
func (b *Book) Place(market domain.MarketKey, maker string, t domain.Tick, amount uint64, faulty bool, bounty uint64) (string, error) {
	if err := market.Validate(); err != nil {
		return "", err
	}
	if amount == 0 {
		return "", ErrZeroAmount
	}
	if int64(t)%market.TickSpacing != 0 {
		return "", fmt.Errorf("%w: tick %d, spacing %d", ErrTickNotAligned, t, market.TickSpacing)
	}

	escrow, err := tick.AmountOutAt(t, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTickOutOfBounds, err)
	}
	if escrow == 0 {
		return "", ErrEscrowTooSmall
	}

	if err := b.ledger.Transfer(market.BuyToken, maker, b.account, escrow+bounty); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	order := &Order{
		OrderID:    fmt.Sprintf("ord-%d", b.seq),
		Maker:      maker,
		Tick:       t,
		Remaining:  amount,
		escrowLeft: escrow,
		Faulty:     faulty,
		Bounty:     bounty,
	}

	key := market.String()
	orders := append(b.markets[key], order)
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Tick < orders[j].Tick })
	b.markets[key] = orders

	return order.OrderID, nil
}

// Cancel removes a resting order and refunds its remaining escrow and
// bounty to the maker. Only the maker may cancel.
func (b *Book) Cancel(market domain.MarketKey, orderID, caller string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := market.String()
	for i, o := range b.markets[key] {
		if o.OrderID != orderID {
			continue
		}
		if o.Maker != caller {
			return ErrNotOrderMaker
		}
		refund := o.escrowLeft + o.Bounty
		if refund > 0 {
			if err := b.ledger.Transfer(market.BuyToken, b.account, o.Maker, refund); err != nil {
				return err
			}
		}
		b.markets[key] = append(b.markets[key][:i], b.markets[key][i+1:]...)
		return nil
	}
	return ErrOrderNotFound
}

// BestPrice returns the lowest resting tick on the market, if any.
func (b *Book) BestPrice(market domain.MarketKey) (domain.Tick, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orders := b.markets[market.String()]
	if len(orders) == 0 {
		return 0, false
	}
	return orders[0].Tick, true
}

// ExecuteAtLimit fills up to amount of the taker's sell token against
// resting orders priced at or below maxTick. Partial fills are not an
// error: the book returns whatever it executed. Faulty orders pay their
// bounty to the taker and are removed without filling.
func (b *Book) ExecuteAtLimit(market domain.MarketKey, maxTick domain.Tick, amount uint64, taker string) (domain.BookExecution, error) {
	var res domain.BookExecution
	if amount == 0 {
		return res, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := market.String()
	orders := b.markets[key]
	remaining := amount
	kept := make([]*Order, 0, len(orders))

	// fail abandons the walk, keeping current plus unprocessed orders.
	fail := func(i int, err error) (domain.BookExecution, error) {
		b.markets[key] = append(kept, orders[i:]...)
		return res, err
	}

	for i, o := range orders {
		if remaining == 0 || o.Tick > maxTick {
			kept = append(kept, o)
			continue
		}

		if o.Faulty {
			if o.Bounty > 0 {
				if err := b.ledger.Transfer(market.BuyToken, b.account, taker, o.Bounty); err != nil {
					return fail(i, err)
				}
				res.Bounty += o.Bounty
			}
			// Remaining escrow goes back to the failing maker.
			if o.escrowLeft > 0 {
				if err := b.ledger.Transfer(market.BuyToken, b.account, o.Maker, o.escrowLeft); err != nil {
					return fail(i+1, err)
				}
			}
			continue // drop the order
		}

		take := remaining
		if take > o.Remaining {
			take = o.Remaining
		}
		out, err := tick.AmountOutAt(o.Tick, take)
		if err != nil {
			return fail(i, err)
		}
		if out == 0 || out > o.escrowLeft {
			// Too small to price, or escrow dust exhausted.
			kept = append(kept, o)
			continue
		}
		if !tick.WithinCeiling(take, out, maxTick) {
			// Flooring the payout would settle past the limit, and a
			// smaller size only rounds worse. Skip the order.
			kept = append(kept, o)
			continue
		}

		fee := uint64(b.takerFeeBps) * out / 10_000
		if err := b.ledger.Transfer(market.SellToken, taker, o.Maker, take); err != nil {
			return fail(i, err)
		}
		if out-fee > 0 {
			if err := b.ledger.Transfer(market.BuyToken, b.account, taker, out-fee); err != nil {
				return fail(i, err)
			}
		}

		o.Remaining -= take
		o.escrowLeft -= out
		remaining -= take
		res.Given += take
		res.Received += out - fee
		res.Fee += fee

		if o.Remaining == 0 {
			// Refund escrow dust left by rounding.
			if o.escrowLeft > 0 {
				if err := b.ledger.Transfer(market.BuyToken, b.account, o.Maker, o.escrowLeft); err != nil {
					return fail(i+1, err)
				}
			}
			continue // drop the filled order
		}
		kept = append(kept, o)
	}

	b.markets[key] = kept
	return res, nil
}

// Snapshot captures the resting-order state and returns a closure that
// restores it. Ledger balances are snapshotted separately by the caller.
func (b *Book) Snapshot() func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make(map[string][]*Order, len(b.markets))
	for key, orders := range b.markets {
		list := make([]*Order, len(orders))
		for i, o := range orders {
			dup := *o
			list[i] = &dup
		}
		cp[key] = list
	}
	seq := b.seq

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.markets = cp
		b.seq = seq
	}
}
