/*
balance.go - Balance aggregation and expiration resolution

PURPOSE:
  Derives the user's point position from current rows on every read. There
  is no stored balance column that can drift: available, pending, used, and
  expired are recomputed with a single now per call.

EXPIRATION:
  Expiry is resolved lazily. A batch past its expiresAt is excluded from
  available and counted as expired even if no sweep has flipped its status
  yet. ExpireSweep persists the expired status for reporting; it is an
  optimization, never a correctness requirement.

SEE ALSO:
  - types.go: The eligibility predicate
  - projection.go: Expiration schedule grouped by date
*/
package ledger

import (
	"context"
	"errors"
	"log"
)

// =============================================================================
// BALANCE AGGREGATOR
// =============================================================================

// GetBalance recomputes the user's balance from current rows.
func (s *Service) GetBalance(ctx context.Context, userID UserID) (*Balance, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.Now()
	batches, err := s.store.BatchesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	bal := &Balance{UserID: userID, AsOf: now}
	for _, b := range batches {
		switch {
		case b.RemainingAmount <= 0:
			// Fully drained; counted via spends below.
		case b.ExpiredAt(now):
			bal.Expired += b.RemainingAmount
		case b.PendingAt(now):
			bal.Pending += b.RemainingAmount
		default:
			bal.Available += b.RemainingAmount
		}
	}

	// used = spend magnitudes minus restored amounts.
	spends, err := s.store.SpendsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sp := range spends {
		bal.Used += sp.Amount.Abs()
	}
	adjustments, err := s.store.AdjustmentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range adjustments {
		if a.Kind == AdjustRestoreUsed {
			bal.Used -= a.Amount.Abs()
		}
	}

	return bal, nil
}

// =============================================================================
// EXPIRATION SWEEP - Persists expired status for reporting
// =============================================================================

// SweepResult summarizes one expiration sweep.
type SweepResult struct {
	BatchesMarked int
	PointsExpired Points
}

// ExpireSweep flips the advisory status of batches past expiry to expired.
// The remaining amount is untouched: the expired rows keep their remainder
// as a queryable record of forfeited points. A batch modified concurrently
// is skipped and picked up by the next run.
func (s *Service) ExpireSweep(ctx context.Context) (*SweepResult, error) {
	now := s.Now()
	candidates, err := s.store.ExpiredUnmarked(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, b := range candidates {
		err := s.store.UpdateBatchRemaining(ctx, b.ID, b.RemainingAmount, StatusExpired, b.Version)
		if err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				log.Printf("[Sweep] batch %s changed mid-sweep, skipping", b.ID)
				continue
			}
			return result, err
		}
		result.BatchesMarked++
		result.PointsExpired += b.RemainingAmount
	}
	return result, nil
}
