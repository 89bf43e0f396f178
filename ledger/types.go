/*
Package ledger provides the point ledger and FIFO redemption engine.

PURPOSE:
  This package contains the core accounting types and algorithms for managing
  user reward-point balances. Points are earned in time-bounded batches and
  redeemed oldest-first, with exact audit links between every spend and the
  batches it drew from.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: Integral point quantity (positive for earn, negative for spend)
  - PointBatch: An earn entry with its own availability window and expiry
  - SpendTransaction: An immutable record of a redemption
  - ConsumptionLink: Audit record tying a spend to the batches it consumed
  - AdjustmentTransaction: Refund-driven reversal/restoration record

DESIGN PRINCIPLES:
  1. Eligibility is derived: a batch's status column is advisory; whether it
     can be redeemed is always recomputed from (availableFrom, expiresAt,
     remainingAmount) at the moment of use.
  2. Immutability: spends, links, and adjustments are never modified.
  3. Auditability: every point consumed is traceable to a specific batch.

SEE ALSO:
  - redeem.go: FIFO consumption algorithm
  - reverse.go: Proportional refund reversal
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"
)

// =============================================================================
// POINTS - Integral point quantity
// =============================================================================

// Points is an integral number of reward points. Earn amounts are positive;
// spend transaction amounts are negative.
type Points int64

func (p Points) Abs() Points {
	if p < 0 {
		return -p
	}
	return p
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type BatchID string
type SpendID string
type AdjustmentID string
type ReservationID string

// =============================================================================
// POINT BATCH - Earn entry with availability window and depletable remainder
// =============================================================================

type BatchStatus string

const (
	StatusPending   BatchStatus = "pending"   // availableFrom is in the future
	StatusAvailable BatchStatus = "available" // inside the availability window
	StatusUsed      BatchStatus = "used"      // remaining amount fully drained
	StatusExpired   BatchStatus = "expired"   // past expiresAt (set by sweep)
)

type SourceKind string

const (
	SourcePurchase    SourceKind = "purchase"
	SourceReferral    SourceKind = "referral"
	SourceBonus       SourceKind = "bonus"
	SourceAdmin       SourceKind = "admin"
	SourceRestoration SourceKind = "restoration"
)

// PointBatch is a single earn-type ledger entry. RemainingAmount is the only
// mutable quantity: it is decremented by redemption, decremented by earned
// reversal, and re-incremented by restoration. The batch itself is never
// deleted; a fully drained batch stays as a permanent audit record.
type PointBatch struct {
	ID              BatchID
	UserID          UserID
	OriginalAmount  Points
	RemainingAmount Points

	// Status is advisory. Use EligibleAt/PendingAt/ExpiredAt, never Status,
	// to decide whether a batch can be consumed. A stale status written by
	// a lagging sweep must not change redemption behavior.
	Status BatchStatus

	SourceKind          SourceKind
	SourceReservationID ReservationID

	AvailableFrom time.Time
	ExpiresAt     time.Time // zero value = never expires
	CreatedAt     time.Time

	Description string
	Metadata    map[string]string

	// Version is the optimistic-locking counter maintained by the store.
	// Incremented on every remaining-amount update.
	Version int64
}

// NeverExpires reports whether the batch has no expiry.
func (b *PointBatch) NeverExpires() bool { return b.ExpiresAt.IsZero() }

// ExpiredAt reports whether the batch is past its expiry window at now.
func (b *PointBatch) ExpiredAt(now time.Time) bool {
	return !b.NeverExpires() && !now.Before(b.ExpiresAt)
}

// PendingAt reports whether the batch has not yet entered its availability
// window at now.
func (b *PointBatch) PendingAt(now time.Time) bool {
	return now.Before(b.AvailableFrom)
}

// EligibleAt reports whether the batch can be consumed at now:
// inside [availableFrom, expiresAt) with a positive remaining amount.
func (b *PointBatch) EligibleAt(now time.Time) bool {
	return b.RemainingAmount > 0 && !b.PendingAt(now) && !b.ExpiredAt(now)
}

// DerivedStatus recomputes the advisory status from the batch's timestamps
// and remaining amount.
func (b *PointBatch) DerivedStatus(now time.Time) BatchStatus {
	switch {
	case b.RemainingAmount <= 0:
		return StatusUsed
	case b.ExpiredAt(now):
		return StatusExpired
	case b.PendingAt(now):
		return StatusPending
	default:
		return StatusAvailable
	}
}

// =============================================================================
// SPEND TRANSACTION - Immutable redemption record
// =============================================================================

// SpendTransaction records a single redemption. Amount is negative; its
// magnitude equals the sum of the AmountConsumed over the spend's links.
type SpendTransaction struct {
	ID            SpendID
	UserID        UserID
	Amount        Points
	ReservationID ReservationID
	Description   string
	CreatedAt     time.Time
	Metadata      map[string]string
}

// =============================================================================
// CONSUMPTION LINK - Spend-to-batch audit record
// =============================================================================

// ConsumptionLink ties a spend to one batch it consumed from. The links are
// the sole record enabling exact proportional restoration on refund.
type ConsumptionLink struct {
	SpendTransactionID SpendID
	BatchID            BatchID
	AmountConsumed     Points
}

// =============================================================================
// ADJUSTMENT TRANSACTION - Refund-driven reversal/restoration record
// =============================================================================

type AdjustmentKind string

const (
	// AdjustReverseEarned claws back points that were earned for a refunded
	// reservation. Amount is negative.
	AdjustReverseEarned AdjustmentKind = "reverse_earned"

	// AdjustRestoreUsed gives back points that were spent against a refunded
	// reservation. Amount is positive.
	AdjustRestoreUsed AdjustmentKind = "restore_used"
)

// AdjustmentTransaction is immutable once written. The (ReservationID, Kind,
// RefundID) triple is the idempotency key: a reversal step that already has
// adjustments for its triple is a no-op on re-invocation.
type AdjustmentTransaction struct {
	ID            AdjustmentID
	UserID        UserID
	Kind          AdjustmentKind
	Amount        Points
	ReservationID ReservationID
	RefundID      string
	CreatedAt     time.Time
}

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID        UserID
	Name      string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// DERIVED BALANCE - Computed from current rows, never stored
// =============================================================================

// Balance is the point position of a user, recomputed on every read with a
// single now so the four totals are mutually consistent.
type Balance struct {
	UserID UserID
	AsOf   time.Time

	// Sum of remaining amounts over eligible batches.
	Available Points

	// Sum of remaining amounts over batches whose window hasn't opened yet.
	Pending Points

	// Sum of spend magnitudes minus restored amounts.
	Used Points

	// Sum of remaining amounts over batches past expiry.
	Expired Points
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryKind string

const (
	HistorySpend      HistoryKind = "spend"
	HistoryAdjustment HistoryKind = "adjustment"
)

// HistoryEntry is one row of a user's usage history: either a spend or an
// adjustment, interleaved newest first.
type HistoryEntry struct {
	Kind          HistoryKind
	ID            string
	Amount        Points
	ReservationID ReservationID
	RefundID      string
	Description   string
	CreatedAt     time.Time
}
