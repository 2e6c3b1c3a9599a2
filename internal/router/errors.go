package router

import (
	"errors"
	"fmt"
)

// Kind classifies a routing failure.
type Kind int

const (
	// KindConfiguration covers malformed requests: unknown or
	// non-whitelisted adapters, bad split percentages, zero amounts.
	// Fatal; no funds move.
	KindConfiguration Kind = iota

	// KindPriceLimit means an adapter settled above its effective
	// ceiling. Fatal; the whole request is rolled back.
	KindPriceLimit

	// KindVenueExecution is an adapter failing internally. Recoverable:
	// the affected amount is redirected downstream.
	KindVenueExecution

	// KindReentrancy is a call back into the router mid-request. Fatal.
	KindReentrancy
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPriceLimit:
		return "price_limit"
	case KindVenueExecution:
		return "venue_execution"
	case KindReentrancy:
		return "reentrancy"
	default:
		return "unknown"
	}
}

// RouteError wraps a routing failure with its classification.
type RouteError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *RouteError) Unwrap() error { return e.Err }

// Fatal reports whether the failure aborts the whole unit of work.
// Only venue execution failures are recoverable.
func (e *RouteError) Fatal() bool { return e.Kind != KindVenueExecution }

// Sentinel errors surfaced inside RouteError.
var (
	ErrAmountZero         = errors.New("amount to sell must be positive")
	ErrNotWhitelisted     = errors.New("adapter is not whitelisted")
	ErrUnknownAdapter     = errors.New("adapter is not registered with the router")
	ErrEmptyAdapterList   = errors.New("adapter list is empty")
	ErrSplitMismatch      = errors.New("adapter and percentage lists differ in length")
	ErrSplitSum           = errors.New("split percentages must sum to exactly 100%")
	ErrPriceLimitExceeded = errors.New("realized tick exceeds the effective ceiling")
	ErrReentrancy         = errors.New("reentrant call into the router")
	ErrNotAdmin           = errors.New("caller is not the administrator")
)

func configErr(err error) *RouteError {
	return &RouteError{Kind: KindConfiguration, Err: err}
}

func priceLimitErr(err error) *RouteError {
	return &RouteError{Kind: KindPriceLimit, Err: err}
}

func venueErr(err error) *RouteError {
	return &RouteError{Kind: KindVenueExecution, Err: err}
}

func reentrancyErr() *RouteError {
	return &RouteError{Kind: KindReentrancy, Err: ErrReentrancy}
}
