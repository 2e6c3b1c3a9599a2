// Package ledger provides in-memory token balance accounting with
// exactly-once debit/credit semantics. Balances are authoritative:
// callers measure balance deltas instead of trusting transfer return
// values.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// Ledger errors
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrZeroAmount        = errors.New("ledger: amount must be positive")
)

// Ledger tracks per-token account balances.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[string]uint64 // token -> account -> amount
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]map[string]uint64)}
}

// Mint credits freshly created tokens to an account.
func (l *Ledger) Mint(token, account string, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

// Transfer moves amount of token from one account to another. The debit
// and credit happen atomically; a failed transfer changes nothing.
func (l *Ledger) Transfer(token, from, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.balances[token][from]
	if have < amount {
		return fmt.Errorf("%w: account %s has %d of %s, need %d",
			ErrInsufficientFunds, from, have, token, amount)
	}
	l.balances[token][from] = have - amount
	l.credit(token, to, amount)
	return nil
}

// Balance returns the current balance of account for token.
func (l *Ledger) Balance(token, account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[token][account]
}

// credit assumes the write lock is held.
func (l *Ledger) credit(token, account string, amount uint64) {
	accounts := l.balances[token]
	if accounts == nil {
		accounts = make(map[string]uint64)
		l.balances[token] = accounts
	}
	accounts[account] += amount
}

// Snapshot captures the full balance state. Used by the router to make
// a request all-or-nothing.
type Snapshot struct {
	balances map[string]map[string]uint64
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := make(map[string]map[string]uint64, len(l.balances))
	for token, accounts := range l.balances {
		inner := make(map[string]uint64, len(accounts))
		for acct, amt := range accounts {
			inner[acct] = amt
		}
		cp[token] = inner
	}
	return &Snapshot{balances: cp}
}

// Restore replaces the ledger state with a previously taken snapshot.
func (l *Ledger) Restore(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := make(map[string]map[string]uint64, len(s.balances))
	for token, accounts := range s.balances {
		inner := make(map[string]uint64, len(accounts))
		for acct, amt := range accounts {
			inner[acct] = amt
		}
		restored[token] = inner
	}
	l.balances = restored
}
