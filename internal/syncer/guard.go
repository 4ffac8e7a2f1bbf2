package syncer

import "sync"

// Guard serializes syncs per account. Acquisition is non-blocking: a
// second caller for the same account gets false immediately instead of
// queueing behind a slow sync. Different accounts never contend.
type Guard struct {
	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[int64]struct{})}
}

// TryAcquire claims the sync slot for an account. It returns false if a
// sync is already in flight.
func (g *Guard) TryAcquire(accountID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[accountID]; busy {
		return false
	}
	g.inFlight[accountID] = struct{}{}
	return true
}

// Release frees the slot. Safe to call for an unheld account.
func (g *Guard) Release(accountID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, accountID)
}
