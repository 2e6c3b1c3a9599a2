// Package venue defines the uniform capability contract every external
// liquidity integration implements.
package venue

import (
	"context"
	"errors"

	"liquidity-router/internal/domain"
)

// Common adapter errors. The router treats any adapter error as a
// recoverable venue failure; these exist for tests and logs.
var (
	ErrLimitUnreachable = errors.New("venue: no size satisfies the price limit")
	ErrDeadlineExpired  = errors.New("venue: deadline expired")
	ErrBadRoutingData   = errors.New("venue: malformed routing data")
	ErrUnknownPool      = errors.New("venue: unknown pool")
	ErrNoLiquidity      = errors.New("venue: pool has no liquidity")
)

// RoutingData is an opaque per-venue payload interpreted only by the
// chosen adapter (pool identifier, fee tier, deadline, ...).
type RoutingData []byte

// Adapter executes a swap against one external venue.
//
// Contract: amountAvailable of the market's sell token has already been
// delivered to the adapter's account before Swap is called. The adapter
// must return any unspent input and all bought tokens to the invoker
// account, and the ratio of tokens consumed to tokens received must
// imply a tick at or below maxTick, or the call must fail outright.
// The invoker verifies all of this by measuring balances; nothing an
// adapter reports is trusted.
type Adapter interface {
	// ID returns the adapter's ledger account, which doubles as its
	// trust-registry identity.
	ID() string

	// Swap spends at most amountAvailable against the venue.
	Swap(ctx context.Context, invoker string, market domain.MarketKey, amountAvailable uint64, maxTick domain.Tick, data RoutingData) error
}
