/*
guard.go - Per-wallet serialization of mutating operations

PURPOSE:
  Exactly one in-flight mutation per wallet at a time, across all callers
  (checkout completion, admin adjustment, refund). The guard is held for
  the whole "validate credit -> append -> update projection" span and
  released on commit or rollback.

WHY BLOCKING, NOT OPTIMISTIC:
  A second concurrent mutation on the same wallet waits (bounded) instead
  of proceeding optimistically. Monetary correctness outweighs latency on
  this path. Reads never take the guard; they see the latest committed
  projection.

BOUNDED WAIT:
  A blocked mutation fails with LockTimeoutError after the configured
  timeout rather than waiting indefinitely, so one slow admin correction
  cannot starve checkout flows.

ORDERING:
  Mutations on one wallet apply in lock-acquisition order. Mutations on
  different wallets are independent and interleave freely.
*/
package wallet

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a mutation waits for a contended wallet.
const DefaultLockTimeout = 3 * time.Second

// Guard serializes mutations per wallet id. The zero value is not usable;
// call NewGuard.
type Guard struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[WalletID]*guardEntry
}

type guardEntry struct {
	sem  chan struct{} // capacity 1: token in channel = locked
	refs int           // holders + waiters, for map cleanup
}

func NewGuard(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Guard{
		timeout: timeout,
		locks:   make(map[WalletID]*guardEntry),
	}
}

// Acquire takes the exclusive lock for walletID, waiting at most the guard
// timeout. On success it returns a release function that MUST be called
// exactly once. On timeout it returns a LockTimeoutError; on context
// cancellation it returns ctx.Err().
func (g *Guard) Acquire(ctx context.Context, walletID WalletID) (func(), error) {
	g.mu.Lock()
	e, ok := g.locks[walletID]
	if !ok {
		e = &guardEntry{sem: make(chan struct{}, 1)}
		g.locks[walletID] = e
	}
	e.refs++
	g.mu.Unlock()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-e.sem
				g.drop(walletID, e)
			})
		}
		return release, nil

	case <-timer.C:
		g.drop(walletID, e)
		return nil, &LockTimeoutError{WalletID: walletID, Waited: g.timeout.String()}

	case <-ctx.Done():
		g.drop(walletID, e)
		return nil, ctx.Err()
	}
}

func (g *Guard) drop(walletID WalletID, e *guardEntry) {
	g.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(g.locks, walletID)
	}
	g.mu.Unlock()
}
