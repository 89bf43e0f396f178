package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
)

// =============================================================================
// COORDINATOR UNIT TESTS
// =============================================================================

func TestCoordinator_SecondAcquire_TimesOut(t *testing.T) {
	coord := ledger.NewCoordinator(50 * time.Millisecond)

	release, err := coord.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	defer release()

	_, err = coord.Acquire(context.Background(), "user-1")
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
}

func TestCoordinator_DifferentUsers_DoNotBlock(t *testing.T) {
	coord := ledger.NewCoordinator(50 * time.Millisecond)

	releaseA, err := coord.Acquire(context.Background(), "user-a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := coord.Acquire(context.Background(), "user-b")
	require.NoError(t, err)
	releaseB()
}

func TestCoordinator_ReleaseUnblocksWaiter(t *testing.T) {
	coord := ledger.NewCoordinator(time.Second)

	release, err := coord.Acquire(context.Background(), "user-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		r, err := coord.Acquire(context.Background(), "user-1")
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestCoordinator_ContextCancellation_Propagates(t *testing.T) {
	coord := ledger.NewCoordinator(time.Minute)

	release, err := coord.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = coord.Acquire(ctx, "user-1")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// DOUBLE-SPEND PREVENTION
// =============================================================================

func TestRedeemFIFO_ConcurrentOverdraw_ExactlyOneSucceeds(t *testing.T) {
	// GIVEN: 500 available points
	// WHEN: Two concurrent redemptions of 400 race
	// THEN: Exactly one commits; the other sees the shortfall

	ctx := context.Background()
	svc := newTestService(t)
	credit(t, svc, "user-1", 500, 1)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 400})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ledger.ErrInsufficientPoints):
			short++
		}
	}
	assert.Equal(t, 1, ok, "exactly one redemption must commit")
	assert.Equal(t, 1, short)
	assert.Equal(t, ledger.Points(100), available(t, svc, "user-1"))
}

func TestRedeemFIFO_ManyConcurrentSmallRedemptions_ConserveTotal(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	credit(t, svc, "user-1", 1000, 1)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
	assert.Equal(t, ledger.Points(0), available(t, svc, "user-1"))

	spends, err := svc.Store().SpendsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, spends, workers)
}

// =============================================================================
// LOCK TIMEOUT SURFACING
// =============================================================================

// slowTxStore delays every transaction so a second operation on the same
// user exhausts its lock wait.
type slowTxStore struct {
	*store.TxMemory
	delay time.Duration
}

func (s *slowTxStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	time.Sleep(s.delay)
	return s.TxMemory.WithTx(ctx, fn)
}

func TestRedeemFIFO_LockTimeout_SurfacedNotRetried(t *testing.T) {
	// GIVEN: A store slow enough that a queued redemption outwaits the lock
	// WHEN: Two redemptions for the same user race
	// THEN: The loser fails with ErrLockTimeout, not ErrTransientFailure

	ctx := context.Background()
	slow := &slowTxStore{TxMemory: store.NewTxMemory(), delay: 150 * time.Millisecond}
	svc := ledger.NewService(slow, ledger.Config{LockTimeout: 30 * time.Millisecond})
	svc.Now = func() time.Time { return testNow }

	_, err := svc.CreateUser(ctx, "user-1", "Alice", "")
	require.NoError(t, err)
	credit(t, svc, "user-1", 1000, 1)

	started := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		close(started)
		_, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
		firstDone <- err
	}()

	<-started
	time.Sleep(10 * time.Millisecond) // let the first op take the lock

	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
	assert.ErrorIs(t, err, ledger.ErrLockTimeout)
	assert.NotErrorIs(t, err, ledger.ErrTransientFailure)

	assert.NoError(t, <-firstDone)
}

// =============================================================================
// CONFLICT RETRY EXHAUSTION
// =============================================================================

// conflictStore makes every batch update collide, simulating an external
// writer racing this process on the shared database.
type conflictStore struct {
	*store.Memory
	updates int
}

func (c *conflictStore) UpdateBatchRemaining(context.Context, ledger.BatchID, ledger.Points, ledger.BatchStatus, int64) error {
	c.updates++
	return ledger.ErrConcurrentModification
}

func (c *conflictStore) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(c)
}

func TestRedeemFIFO_PersistentConflict_BecomesTransientFailure(t *testing.T) {
	// GIVEN: Every optimistic update collides
	// WHEN: Redeeming
	// THEN: The bounded retries exhaust and ErrTransientFailure surfaces

	ctx := context.Background()
	cs := &conflictStore{Memory: store.NewMemory()}
	svc := ledger.NewService(cs, ledger.Config{MaxConflictRetries: 2})
	svc.Now = func() time.Time { return testNow }

	_, err := svc.CreateUser(ctx, "user-1", "Alice", "")
	require.NoError(t, err)
	credit(t, svc, "user-1", 500, 1)

	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrTransientFailure)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// Initial attempt plus two retries.
	assert.Equal(t, 3, cs.updates)
}
