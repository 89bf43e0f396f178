/*
reverse.go - Refund-driven reversal and restoration

PURPOSE:
  When a reservation is refunded, the points it produced and the points it
  consumed are unwound proportionally:

  - reverse_earned: every batch earned for the reservation loses
    floor(originalAmount * fraction), capped at what the batch still has.
    Points the user already spent cannot be clawed back beyond the remainder.
  - restore_used: every consumption link of a spend that paid for the
    reservation gives back floor(amountConsumed * fraction) to the batch it
    drew from, bounded by how much of that batch is actually consumed.

IDEMPOTENCE:
  Each step is keyed on (reservationId, kind, refundId). If adjustments for
  the triple already exist, the step is skipped and the prior adjustments
  are returned unchanged. Upstream refund processing retries freely.

FRACTION MATH:
  Fractions arrive as decimals (e.g. 0.5 for a 50% refund) and every product
  is floored to whole points, so repeated partial refunds can never restore
  or reverse more than integral arithmetic allows.

SEE ALSO:
  - redeem.go: Writes the consumption links consumed here
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// ReversalResult summarizes one refund reversal.
type ReversalResult struct {
	ReservationID ReservationID
	RefundID      string

	// EarnedReversed is the total magnitude clawed back from earned batches.
	EarnedReversed Points

	// UsedRestored is the total given back to batches that were spent from.
	UsedRestored Points

	Adjustments []AdjustmentTransaction
}

// =============================================================================
// REVERSE
// =============================================================================

// ReverseForRefund proportionally unwinds the earn and spend activity tied
// to a reservation. fraction must be in (0, 1]. Safe to re-invoke with the
// same refundID.
func (s *Service) ReverseForRefund(ctx context.Context, reservationID ReservationID, fraction decimal.Decimal, refundID string) (*ReversalResult, error) {
	one := decimal.NewFromInt(1)
	if !fraction.IsPositive() || fraction.GreaterThan(one) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidFraction, fraction)
	}

	// Resolve the affected user so the mutation runs under their lock.
	userID, found, err := s.reservationUser(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !found {
		// Nothing was earned or spent for this reservation.
		return &ReversalResult{ReservationID: reservationID, RefundID: refundID}, nil
	}

	release, err := s.coord.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		result, err := s.reverseOnce(ctx, reservationID, fraction, refundID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reversal conflict persisted after %d retries: %w: %w",
		s.cfg.MaxConflictRetries, ErrTransientFailure, lastErr)
}

// reservationUser finds the user behind a reservation's earn/spend activity.
func (s *Service) reservationUser(ctx context.Context, reservationID ReservationID) (UserID, bool, error) {
	batches, err := s.store.BatchesByReservation(ctx, reservationID)
	if err != nil {
		return "", false, err
	}
	if len(batches) > 0 {
		return batches[0].UserID, true, nil
	}
	spends, err := s.store.SpendsByReservation(ctx, reservationID)
	if err != nil {
		return "", false, err
	}
	if len(spends) > 0 {
		return spends[0].UserID, true, nil
	}
	return "", false, nil
}

func (s *Service) reverseOnce(ctx context.Context, reservationID ReservationID, fraction decimal.Decimal, refundID string) (*ReversalResult, error) {
	now := s.Now()
	result := &ReversalResult{ReservationID: reservationID, RefundID: refundID}

	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := s.reverseEarnedStep(ctx, tx, reservationID, fraction, refundID, now, result); err != nil {
			return err
		}
		return s.restoreUsedStep(ctx, tx, reservationID, fraction, refundID, now, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reverseEarnedStep claws back the refunded fraction of every batch earned
// for the reservation.
func (s *Service) reverseEarnedStep(ctx context.Context, tx Store, reservationID ReservationID, fraction decimal.Decimal, refundID string, now time.Time, result *ReversalResult) error {
	prior, err := tx.AdjustmentsByRefund(ctx, reservationID, AdjustReverseEarned, refundID)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		for _, a := range prior {
			result.EarnedReversed += a.Amount.Abs()
		}
		result.Adjustments = append(result.Adjustments, prior...)
		return nil
	}

	batches, err := tx.BatchesByReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	for _, b := range batches {
		reverse := floorFraction(b.OriginalAmount, fraction)
		reverse = min(reverse, b.RemainingAmount)
		if reverse <= 0 {
			continue
		}

		remaining := b.RemainingAmount - reverse
		updated := b
		updated.RemainingAmount = remaining
		if err := tx.UpdateBatchRemaining(ctx, b.ID, remaining, updated.DerivedStatus(now), b.Version); err != nil {
			return err
		}

		adj := AdjustmentTransaction{
			ID:            AdjustmentID(newID()),
			UserID:        b.UserID,
			Kind:          AdjustReverseEarned,
			Amount:        -reverse,
			ReservationID: reservationID,
			RefundID:      refundID,
			CreatedAt:     now,
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		result.EarnedReversed += reverse
		result.Adjustments = append(result.Adjustments, adj)
	}
	return nil
}

// restoreUsedStep gives back the refunded fraction of every consumption
// link belonging to a spend that paid for the reservation.
func (s *Service) restoreUsedStep(ctx context.Context, tx Store, reservationID ReservationID, fraction decimal.Decimal, refundID string, now time.Time, result *ReversalResult) error {
	prior, err := tx.AdjustmentsByRefund(ctx, reservationID, AdjustRestoreUsed, refundID)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		for _, a := range prior {
			result.UsedRestored += a.Amount.Abs()
		}
		result.Adjustments = append(result.Adjustments, prior...)
		return nil
	}

	spends, err := tx.SpendsByReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	for _, spend := range spends {
		links, err := tx.LinksBySpend(ctx, spend.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			restore := floorFraction(link.AmountConsumed, fraction)
			if restore <= 0 {
				continue
			}

			// Re-read the batch: the earned-reversal step (or an earlier
			// link of the same spend) may have already updated it.
			b, err := tx.GetBatch(ctx, link.BatchID)
			if err != nil {
				return err
			}
			capacity := b.OriginalAmount - b.RemainingAmount
			restore = min(restore, capacity)
			if restore <= 0 {
				continue
			}

			remaining := b.RemainingAmount + restore
			updated := *b
			updated.RemainingAmount = remaining
			if err := tx.UpdateBatchRemaining(ctx, b.ID, remaining, updated.DerivedStatus(now), b.Version); err != nil {
				return err
			}

			adj := AdjustmentTransaction{
				ID:            AdjustmentID(newID()),
				UserID:        spend.UserID,
				Kind:          AdjustRestoreUsed,
				Amount:        restore,
				ReservationID: reservationID,
				RefundID:      refundID,
				CreatedAt:     now,
			}
			if err := tx.InsertAdjustment(ctx, adj); err != nil {
				return err
			}
			result.UsedRestored += restore
			result.Adjustments = append(result.Adjustments, adj)
		}
	}
	return nil
}

// floorFraction computes floor(amount * fraction) in whole points.
func floorFraction(amount Points, fraction decimal.Decimal) Points {
	return Points(decimal.NewFromInt(int64(amount)).Mul(fraction).Floor().IntPart())
}
