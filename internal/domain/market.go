package domain

import "fmt"

// Tick is a signed log-scale price index, base 1.0001, measured as
// sell-token paid per buy-token received. A lower tick is always at
// least as favorable to the seller.
type Tick int64

// MarketKey identifies a trading pair as an ordered (sell, buy) pair
// plus the book's tick spacing. Immutable once constructed.
type MarketKey struct {
	SellToken   string // token the taker gives up
	BuyToken    string // token the taker receives
	TickSpacing int64  // book granularity
}

// NewMarketKey constructs a validated market key.
func NewMarketKey(sellToken, buyToken string, tickSpacing int64) (MarketKey, error) {
	k := MarketKey{SellToken: sellToken, BuyToken: buyToken, TickSpacing: tickSpacing}
	if err := k.Validate(); err != nil {
		return MarketKey{}, err
	}
	return k, nil
}

// Validate checks token addresses and spacing.
func (k MarketKey) Validate() error {
	if err := ValidateAddress(k.SellToken); err != nil {
		return fmt.Errorf("sell token: %w", err)
	}
	if err := ValidateAddress(k.BuyToken); err != nil {
		return fmt.Errorf("buy token: %w", err)
	}
	if k.SellToken == k.BuyToken {
		return fmt.Errorf("sell and buy token must differ")
	}
	if k.TickSpacing <= 0 {
		return fmt.Errorf("tick spacing must be positive, got %d", k.TickSpacing)
	}
	return nil
}

// Reversed returns the key for the opposite direction of trade.
// Ticks quoted on the reversed key are negated for the same physical price.
func (k MarketKey) Reversed() MarketKey {
	return MarketKey{SellToken: k.BuyToken, BuyToken: k.SellToken, TickSpacing: k.TickSpacing}
}

// String renders the key in SELL/BUY:spacing form, used as a storage key.
func (k MarketKey) String() string {
	return fmt.Sprintf("%s/%s:%d", k.SellToken, k.BuyToken, k.TickSpacing)
}
