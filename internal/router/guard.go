package router

import "sync/atomic"

// guard is a request-scoped exclusive lock. Acquisition is
// non-blocking: a second caller arriving while a request is in
// flight is rejected rather than queued, so an adapter that calls
// back into the router cannot observe intermediate state.
type guard struct {
	busy atomic.Bool
}

// TryAcquire takes the lock. It returns false when a request is
// already in flight.
func (g *guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the lock for the next request.
func (g *guard) Release() {
	g.busy.Store(false)
}
