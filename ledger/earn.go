/*
earn.go - Earning engine

PURPOSE:
  Appends new point batches. Earning never fails for balance reasons; the
  caller supplies the final amount (bonus multipliers, referral payouts, and
  promotion math are computed upstream).

SEE ALSO:
  - redeem.go: Consumes the batches appended here
*/
package ledger

import (
	"context"
	"time"
)

// AddPointsInput describes a batch to append.
type AddPointsInput struct {
	UserID        UserID
	Amount        Points
	SourceKind    SourceKind
	ReservationID ReservationID // optional: reservation the earn is tied to

	// AvailableFrom defaults to now. A future value creates a pending batch.
	AvailableFrom time.Time

	// ExpiresAt zero value means the batch never expires.
	ExpiresAt time.Time

	Description string
	Metadata    map[string]string
}

// AddPoints appends one point batch for the user. Fails with
// ErrInvalidAmount if the amount is not positive.
func (s *Service) AddPoints(ctx context.Context, in AddPointsInput) (*PointBatch, error) {
	if in.Amount <= 0 {
		return nil, &InvalidAmountError{Amount: in.Amount, Reason: "earn amount must be positive"}
	}
	if _, err := s.requireUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	release, err := s.coord.Acquire(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.Now()
	availableFrom := in.AvailableFrom
	if availableFrom.IsZero() {
		availableFrom = now
	}

	batch := PointBatch{
		ID:                  BatchID(newID()),
		UserID:              in.UserID,
		OriginalAmount:      in.Amount,
		RemainingAmount:     in.Amount,
		SourceKind:          in.SourceKind,
		SourceReservationID: in.ReservationID,
		AvailableFrom:       availableFrom,
		ExpiresAt:           in.ExpiresAt,
		CreatedAt:           now,
		Description:         in.Description,
		Metadata:            in.Metadata,
		Version:             1,
	}
	batch.Status = batch.DerivedStatus(now)

	if err := s.store.InsertBatch(ctx, batch); err != nil {
		return nil, err
	}
	return &batch, nil
}
