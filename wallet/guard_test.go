package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-engine/wallet"
)

func TestGuard_SecondAcquire_TimesOut(t *testing.T) {
	// GIVEN: one mutation holds the wallet guard
	// WHEN: a second mutation tries to acquire it
	// THEN: it fails with LockTimeoutError after the bounded wait

	g := wallet.NewGuard(50 * time.Millisecond)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = g.Acquire(ctx, "w-1")
	waited := time.Since(start)

	require.Error(t, err)
	var lockErr *wallet.LockTimeoutError
	assert.ErrorAs(t, err, &lockErr)
	assert.ErrorIs(t, err, wallet.ErrLockTimeout)
	assert.Equal(t, wallet.WalletID("w-1"), lockErr.WalletID)
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond)
}

func TestGuard_ReleasedLock_Reacquirable(t *testing.T) {
	g := wallet.NewGuard(50 * time.Millisecond)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)
	release()

	release2, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)
	release2()
}

func TestGuard_DifferentWallets_Independent(t *testing.T) {
	g := wallet.NewGuard(50 * time.Millisecond)
	ctx := context.Background()

	r1, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)
	defer r1()

	// Holding w-1 must not block w-2 at all.
	r2, err := g.Acquire(ctx, "w-2")
	require.NoError(t, err)
	r2()
}

func TestGuard_WaiterProceeds_WhenHolderReleasesInTime(t *testing.T) {
	g := wallet.NewGuard(500 * time.Millisecond)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	r2, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err, "waiter should proceed once the holder releases")
	r2()
}

func TestGuard_ContextCancellation_UnblocksWaiter(t *testing.T) {
	g := wallet.NewGuard(10 * time.Second)

	release, err := g.Acquire(context.Background(), "w-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = g.Acquire(ctx, "w-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_ReleaseIdempotent(t *testing.T) {
	g := wallet.NewGuard(50 * time.Millisecond)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)

	// Calling release twice must not unlock someone else's acquisition.
	release()
	release()

	r2, err := g.Acquire(ctx, "w-1")
	require.NoError(t, err)
	defer r2()

	_, err = g.Acquire(ctx, "w-1")
	assert.ErrorIs(t, err, wallet.ErrLockTimeout, "double release must not leave a spare token")
}

func TestGuard_ManyContenders_AllEventuallyProceed(t *testing.T) {
	g := wallet.NewGuard(5 * time.Second)
	ctx := context.Background()

	const contenders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	held := false
	succeeded := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(ctx, "w-1")
			if err != nil {
				return
			}
			mu.Lock()
			assert.False(t, held, "two goroutines inside the critical section")
			held = true
			succeeded++
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held = false
			mu.Unlock()
			release()
		}()
	}

	wg.Wait()
	assert.Equal(t, contenders, succeeded)
}
