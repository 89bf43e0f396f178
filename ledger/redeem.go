/*
redeem.go - FIFO redemption engine

PURPOSE:
  Redeems points by consuming the oldest eligible batches first, splitting a
  batch when the remaining need is smaller than the batch's remainder. One
  redemption writes exactly one SpendTransaction, one ConsumptionLink per
  batch touched, and the decremented batch rows, all inside a single store
  transaction.

ALGORITHM (under the per-user lock):
  1. Load the user's batches, keep those eligible at now, ordered ascending
     by (availableFrom, createdAt, id).
  2. Sum remaining amounts; if the sum is short, fail with
     InsufficientPointsError before any write.
  3. Walk the ordered list consuming min(need, batch.remaining) per batch
     until the need is met.
  4. Commit spend + links + batch decrements atomically.

CONFLICT HANDLING:
  Batch decrements are compare-and-swap on the batch version. A CAS miss
  aborts the transaction and the whole cycle is retried from the read step,
  a bounded number of times, before surfacing ErrTransientFailure. The lock
  makes conflicts impossible between this engine's own operations; the
  retry loop covers out-of-band writers sharing the database.

SEE ALSO:
  - coordinator.go: Per-user serialization
  - reverse.go: Uses the links written here for exact restoration
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// BatchConsumption is one batch's share of a redemption.
type BatchConsumption struct {
	BatchID        BatchID
	AmountConsumed Points
	RemainingAfter Points
}

// RedeemResult is the consumption breakdown of a successful redemption.
type RedeemResult struct {
	SpendTransactionID SpendID
	TotalUsed          Points
	ConsumedBatches    []BatchConsumption

	// RemainingBalance is the eligible balance left after the redemption.
	RemainingBalance Points
}

// RedeemInput describes a redemption request.
type RedeemInput struct {
	UserID        UserID
	Amount        Points
	ReservationID ReservationID // optional: reservation the spend pays for
	Description   string
	Metadata      map[string]string
}

// =============================================================================
// REDEEM
// =============================================================================

// RedeemFIFO redeems in.Amount points for the user, oldest batches first.
func (s *Service) RedeemFIFO(ctx context.Context, in RedeemInput) (*RedeemResult, error) {
	if in.Amount < s.cfg.MinRedeem || in.Amount > s.cfg.MaxRedeem {
		return nil, &InvalidAmountError{Amount: in.Amount, Min: s.cfg.MinRedeem, Max: s.cfg.MaxRedeem}
	}
	if _, err := s.requireUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	release, err := s.coord.Acquire(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		result, err := s.redeemOnce(ctx, in)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("redeem conflict persisted after %d retries: %w: %w",
		s.cfg.MaxConflictRetries, ErrTransientFailure, lastErr)
}

// redeemOnce runs one read-select-write cycle inside a store transaction.
func (s *Service) redeemOnce(ctx context.Context, in RedeemInput) (*RedeemResult, error) {
	now := s.Now()
	var result *RedeemResult

	err := s.store.WithTx(ctx, func(tx Store) error {
		eligible, total, err := s.eligibleBatches(ctx, tx, in.UserID, now)
		if err != nil {
			return err
		}
		if total < in.Amount {
			return &InsufficientPointsError{
				UserID:    in.UserID,
				Available: total,
				Requested: in.Amount,
			}
		}

		spendID := SpendID(newID())
		var (
			need     = in.Amount
			links    []ConsumptionLink
			consumed []BatchConsumption
		)

		for i := range eligible {
			if need == 0 {
				break
			}
			b := &eligible[i]
			take := min(need, b.RemainingAmount)
			remaining := b.RemainingAmount - take

			status := b.Status
			if remaining == 0 {
				status = StatusUsed
			}
			if err := tx.UpdateBatchRemaining(ctx, b.ID, remaining, status, b.Version); err != nil {
				return err
			}

			links = append(links, ConsumptionLink{
				SpendTransactionID: spendID,
				BatchID:            b.ID,
				AmountConsumed:     take,
			})
			consumed = append(consumed, BatchConsumption{
				BatchID:        b.ID,
				AmountConsumed: take,
				RemainingAfter: remaining,
			})
			need -= take
		}

		spend := SpendTransaction{
			ID:            spendID,
			UserID:        in.UserID,
			Amount:        -in.Amount,
			ReservationID: in.ReservationID,
			Description:   in.Description,
			CreatedAt:     now,
			Metadata:      in.Metadata,
		}
		if err := tx.InsertSpend(ctx, spend); err != nil {
			return err
		}
		if err := tx.InsertLinks(ctx, links); err != nil {
			return err
		}

		result = &RedeemResult{
			SpendTransactionID: spendID,
			TotalUsed:          in.Amount,
			ConsumedBatches:    consumed,
			RemainingBalance:   total - in.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// eligibleBatches loads the user's batches eligible at now, in FIFO order,
// together with their summed remaining amount. The store already orders by
// (available_from, created_at, id); the sort here re-asserts the invariant
// so correctness never depends on a store implementation detail.
func (s *Service) eligibleBatches(ctx context.Context, tx Store, userID UserID, now time.Time) ([]PointBatch, Points, error) {
	all, err := tx.BatchesByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	var (
		eligible []PointBatch
		total    Points
	)
	for _, b := range all {
		if b.EligibleAt(now) {
			eligible = append(eligible, b)
			total += b.RemainingAmount
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !a.AvailableFrom.Equal(b.AvailableFrom) {
			return a.AvailableFrom.Before(b.AvailableFrom)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return eligible, total, nil
}
