package router

import (
	"context"
	"fmt"

	"liquidity-router/internal/domain"
)

// RecoverFunds sweeps stranded token balances off the router account to
// a designated address. Administrator only. Amount zero means the full
// balance. The sweep competes with routing requests for the request
// lock so it can never observe funds that are merely in flight.
func (r *Router) RecoverFunds(ctx context.Context, caller, token, to string, amount uint64) (uint64, error) {
	if r.admin == "" || caller != r.admin {
		return 0, configErr(ErrNotAdmin)
	}
	if err := domain.ValidateAccountAddress(to); err != nil {
		return 0, configErr(fmt.Errorf("recovery destination: %w", err))
	}

	if !r.guard.TryAcquire() {
		if r.metrics != nil {
			r.metrics.ReentrancyAborts.Inc()
		}
		return 0, reentrancyErr()
	}
	defer r.guard.Release()

	balance := r.ledger.Balance(token, r.account)
	if amount == 0 || amount > balance {
		amount = balance
	}
	if amount == 0 {
		return 0, nil
	}

	if err := r.ledger.Transfer(token, r.account, to, amount); err != nil {
		return 0, configErr(fmt.Errorf("recovery transfer: %w", err))
	}

	r.logger.Info().
		Str("token", token).
		Str("to", to).
		Uint64("amount", amount).
		Msg("recovered stranded funds")
	return amount, nil
}
