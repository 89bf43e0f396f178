package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *ledger.Service {
	t.Helper()
	svc := ledger.NewService(store.NewTxMemory(), ledger.DefaultConfig())
	svc.Now = func() time.Time { return testNow }

	_, err := svc.CreateUser(context.Background(), "user-1", "Alice", "alice@example.com")
	require.NoError(t, err)
	return svc
}

// credit adds an immediately-available batch daysAgo days in the past and
// returns its id.
func credit(t *testing.T, svc *ledger.Service, userID ledger.UserID, amount ledger.Points, daysAgo int) ledger.BatchID {
	t.Helper()
	b, err := svc.AddPoints(context.Background(), ledger.AddPointsInput{
		UserID:        userID,
		Amount:        amount,
		SourceKind:    ledger.SourcePurchase,
		AvailableFrom: testNow.AddDate(0, 0, -daysAgo),
	})
	require.NoError(t, err)
	return b.ID
}

func available(t *testing.T, svc *ledger.Service, userID ledger.UserID) ledger.Points {
	t.Helper()
	bal, err := svc.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return bal.Available
}

// =============================================================================
// FIFO ORDERING
// =============================================================================

func TestRedeemFIFO_ConsumesOldestBatchesFirst(t *testing.T) {
	// GIVEN: Batches of 1000, 1500, 800 earned on consecutive days
	// WHEN: Redeeming 1200 points
	// THEN: The oldest batch is drained and 200 comes from the second

	ctx := context.Background()
	svc := newTestService(t)

	first := credit(t, svc, "user-1", 1000, 3)
	second := credit(t, svc, "user-1", 1500, 2)
	credit(t, svc, "user-1", 800, 1)

	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 1200})
	require.NoError(t, err)

	require.Len(t, result.ConsumedBatches, 2)
	assert.Equal(t, first, result.ConsumedBatches[0].BatchID)
	assert.Equal(t, ledger.Points(1000), result.ConsumedBatches[0].AmountConsumed)
	assert.Equal(t, ledger.Points(0), result.ConsumedBatches[0].RemainingAfter)
	assert.Equal(t, second, result.ConsumedBatches[1].BatchID)
	assert.Equal(t, ledger.Points(200), result.ConsumedBatches[1].AmountConsumed)
	assert.Equal(t, ledger.Points(1300), result.ConsumedBatches[1].RemainingAfter)

	assert.Equal(t, ledger.Points(1200), result.TotalUsed)
	assert.Equal(t, ledger.Points(2100), result.RemainingBalance)
	assert.Equal(t, ledger.Points(2100), available(t, svc, "user-1"))
}

func TestRedeemFIFO_TieOnAvailableFrom_BreaksByCreatedAtThenID(t *testing.T) {
	// GIVEN: Two batches that became available at the same instant
	// WHEN: Redeeming less than either holds
	// THEN: Consumption order is deterministic across calls

	ctx := context.Background()
	svc := newTestService(t)

	a := credit(t, svc, "user-1", 500, 2)
	b := credit(t, svc, "user-1", 500, 2)

	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	require.Len(t, result.ConsumedBatches, 1)

	// Same availableFrom and createdAt (pinned clock), so the id decides.
	want := a
	if b < a {
		want = b
	}
	assert.Equal(t, want, result.ConsumedBatches[0].BatchID)
}

// =============================================================================
// BATCH SPLITTING
// =============================================================================

func TestRedeemFIFO_SplitsBatchOnPartialConsumption(t *testing.T) {
	// GIVEN: Batches of 300, 250, 400, 150
	// WHEN: Redeeming 1000 points
	// THEN: First three are drained, the last is split 50/100

	ctx := context.Background()
	svc := newTestService(t)

	amounts := []ledger.Points{300, 250, 400, 150}
	ids := make([]ledger.BatchID, len(amounts))
	for i, amount := range amounts {
		ids[i] = credit(t, svc, "user-1", amount, len(amounts)-i)
	}

	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 1000})
	require.NoError(t, err)

	require.Len(t, result.ConsumedBatches, 4)
	assert.Equal(t, ledger.Points(300), result.ConsumedBatches[0].AmountConsumed)
	assert.Equal(t, ledger.Points(250), result.ConsumedBatches[1].AmountConsumed)
	assert.Equal(t, ledger.Points(400), result.ConsumedBatches[2].AmountConsumed)
	assert.Equal(t, ledger.Points(50), result.ConsumedBatches[3].AmountConsumed)
	assert.Equal(t, ledger.Points(100), result.ConsumedBatches[3].RemainingAfter)

	// Conservation: consumed amounts sum to the requested amount.
	var sum ledger.Points
	for _, c := range result.ConsumedBatches {
		sum += c.AmountConsumed
	}
	assert.Equal(t, ledger.Points(1000), sum)
	assert.Equal(t, ledger.Points(100), available(t, svc, "user-1"))

	// The split batch stays available; the drained ones flip to used.
	split, err := svc.Store().GetBatch(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAvailable, split.Status)

	drained, err := svc.Store().GetBatch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUsed, drained.Status)
}

func TestRedeemFIFO_ExactSum_DrainsEverything(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	credit(t, svc, "user-1", 300, 2)
	credit(t, svc, "user-1", 700, 1)

	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 1000})
	require.NoError(t, err)

	assert.Equal(t, ledger.Points(0), result.RemainingBalance)
	for _, c := range result.ConsumedBatches {
		assert.Equal(t, ledger.Points(0), c.RemainingAfter)
	}
	assert.Equal(t, ledger.Points(0), available(t, svc, "user-1"))
}

// =============================================================================
// ELIGIBILITY FILTERING
// =============================================================================

func TestRedeemFIFO_SkipsPendingAndExpiredBatches(t *testing.T) {
	// GIVEN: An expired batch, a pending batch, and one available batch
	// WHEN: Redeeming more than the available batch holds
	// THEN: The request fails; ineligible points are never touched

	ctx := context.Background()
	svc := newTestService(t)

	// Expired last week
	_, err := svc.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-1",
		Amount:        500,
		SourceKind:    ledger.SourceBonus,
		AvailableFrom: testNow.AddDate(0, 0, -60),
		ExpiresAt:     testNow.AddDate(0, 0, -7),
	})
	require.NoError(t, err)

	// Not available until next week
	_, err = svc.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-1",
		Amount:        500,
		SourceKind:    ledger.SourceReferral,
		AvailableFrom: testNow.AddDate(0, 0, 7),
	})
	require.NoError(t, err)

	credit(t, svc, "user-1", 400, 1)

	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 600})
	require.Error(t, err)

	var insufficient *ledger.InsufficientPointsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ledger.Points(400), insufficient.Available)
	assert.Equal(t, ledger.Points(600), insufficient.Requested)

	// Redeeming within the eligible balance still works.
	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 400})
	require.NoError(t, err)
	require.Len(t, result.ConsumedBatches, 1)
	assert.Equal(t, ledger.Points(400), result.ConsumedBatches[0].AmountConsumed)
}

func TestRedeemFIFO_BatchExpiringAtNow_IsExcluded(t *testing.T) {
	// Expiry boundary is exclusive: expiresAt <= now means gone.
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-1",
		Amount:        100,
		SourceKind:    ledger.SourceBonus,
		AvailableFrom: testNow.AddDate(0, 0, -10),
		ExpiresAt:     testNow,
	})
	require.NoError(t, err)

	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 100})
	assert.ErrorIs(t, err, ledger.ErrInsufficientPoints)
}

// =============================================================================
// FAILURE ATOMICITY
// =============================================================================

func TestRedeemFIFO_Insufficient_LeavesNoTrace(t *testing.T) {
	// GIVEN: 500 available points
	// WHEN: A redemption of 800 fails
	// THEN: No spend, no links, no batch decrement

	ctx := context.Background()
	svc := newTestService(t)
	id := credit(t, svc, "user-1", 500, 1)

	_, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 800})
	require.ErrorIs(t, err, ledger.ErrInsufficientPoints)

	batch, err := svc.Store().GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(500), batch.RemainingAmount)

	spends, err := svc.Store().SpendsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, spends)

	history, err := svc.GetUsageHistory(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRedeemFIFO_ZeroBalance_Insufficient(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 1})
	assert.ErrorIs(t, err, ledger.ErrInsufficientPoints)
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestRedeemFIFO_AmountOutsideBounds_Rejected(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(store.NewTxMemory(), ledger.Config{
		MinRedeem: 10,
		MaxRedeem: 1000,
	})
	svc.Now = func() time.Time { return testNow }
	_, err := svc.CreateUser(ctx, "user-1", "Alice", "")
	require.NoError(t, err)
	credit(t, svc, "user-1", 5000, 1)

	for _, amount := range []ledger.Points{0, -50, 9, 1001} {
		_, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: amount})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %d", amount)
	}

	// Bounds are inclusive.
	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 10})
	assert.NoError(t, err)
	_, err = svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "user-1", Amount: 1000})
	assert.NoError(t, err)
}

func TestRedeemFIFO_UnknownUser_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{UserID: "ghost", Amount: 100})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func TestRedeemFIFO_WritesOneLinkPerBatchTouched(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	credit(t, svc, "user-1", 300, 2)
	credit(t, svc, "user-1", 300, 1)

	result, err := svc.RedeemFIFO(ctx, ledger.RedeemInput{
		UserID:        "user-1",
		Amount:        450,
		ReservationID: "resv-42",
	})
	require.NoError(t, err)

	links, err := svc.Store().LinksBySpend(ctx, result.SpendTransactionID)
	require.NoError(t, err)
	require.Len(t, links, 2)

	var linked ledger.Points
	for _, l := range links {
		linked += l.AmountConsumed
	}
	assert.Equal(t, ledger.Points(450), linked)

	spends, err := svc.Store().SpendsByReservation(ctx, "resv-42")
	require.NoError(t, err)
	require.Len(t, spends, 1)
	assert.Equal(t, ledger.Points(-450), spends[0].Amount)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestErrorClassificationHelpers(t *testing.T) {
	assert.True(t, ledger.IsClientError(&ledger.InvalidAmountError{Amount: -1}))
	assert.True(t, ledger.IsClientError(&ledger.InsufficientPointsError{}))
	assert.True(t, ledger.IsNotFound(ledger.ErrUserNotFound))
	assert.True(t, ledger.IsRetryable(ledger.ErrTransientFailure))

	// A lock timeout is never retried internally but the caller may back
	// off and try again.
	assert.True(t, ledger.IsRetryable(ledger.ErrLockTimeout))
	assert.False(t, ledger.IsRetryable(errors.New("boom")))
	assert.False(t, ledger.IsClientError(ledger.ErrLockTimeout))
}
