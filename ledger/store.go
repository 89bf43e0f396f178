/*
store.go - Persistence interfaces for the point ledger

PURPOSE:
  Defines the interface between the engines and the database. The engines
  are written against these interfaces so they can be exercised equally
  against SQLite and the in-memory store used in tests.

KEY INTERFACES:
  Store:   Row-level reads and writes for the four ledger tables plus users.
  TxStore: Store plus WithTx for atomic multi-table mutations.

MUTABILITY CONTRACT:
  point_spend_transactions, point_consumption_links, and
  point_adjustment_transactions are append-only. The only mutable columns in
  the whole schema are point_batches.remaining_amount and
  point_batches.status, updated exclusively through UpdateBatchRemaining.

OPTIMISTIC LOCKING:
  UpdateBatchRemaining is a compare-and-swap on the batch's version counter.
  A version mismatch returns ErrConcurrentModification so the engine can
  re-read and retry. Under the per-user coordinator this only fires when an
  out-of-band writer touches the same rows.

ATOMICITY:
  WithTx gives all-or-nothing semantics: a redemption writes one spend, N
  links, and N batch updates, and either all of them commit or none do.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - redeem.go: The read-select-write cycle run inside WithTx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Row-level persistence
// =============================================================================

type Store interface {
	// --- point batches ---

	// InsertBatch appends a new batch row.
	InsertBatch(ctx context.Context, b PointBatch) error

	// GetBatch returns a batch by id, or ErrBatchNotFound.
	GetBatch(ctx context.Context, id BatchID) (*PointBatch, error)

	// BatchesByUser returns all batches for a user ordered ascending by
	// (available_from, created_at, id). The ordering is part of the
	// contract: the FIFO engine consumes in exactly this order.
	BatchesByUser(ctx context.Context, userID UserID) ([]PointBatch, error)

	// BatchesByReservation returns batches earned for a reservation.
	BatchesByReservation(ctx context.Context, reservationID ReservationID) ([]PointBatch, error)

	// UpdateBatchRemaining sets remaining_amount and status if and only if
	// the stored version equals expectedVersion. Returns
	// ErrConcurrentModification on a version mismatch.
	UpdateBatchRemaining(ctx context.Context, id BatchID, remaining Points, status BatchStatus, expectedVersion int64) error

	// ExpiredUnmarked returns batches past expiry with remaining amount > 0
	// whose status has not yet been flipped to expired. Used by the sweep.
	ExpiredUnmarked(ctx context.Context, now time.Time) ([]PointBatch, error)

	// --- spend transactions (append-only) ---

	InsertSpend(ctx context.Context, s SpendTransaction) error
	SpendsByUser(ctx context.Context, userID UserID) ([]SpendTransaction, error)
	SpendsByReservation(ctx context.Context, reservationID ReservationID) ([]SpendTransaction, error)

	// --- consumption links (append-only) ---

	InsertLinks(ctx context.Context, links []ConsumptionLink) error
	LinksBySpend(ctx context.Context, spendID SpendID) ([]ConsumptionLink, error)

	// --- adjustment transactions (append-only) ---

	InsertAdjustment(ctx context.Context, a AdjustmentTransaction) error
	AdjustmentsByUser(ctx context.Context, userID UserID) ([]AdjustmentTransaction, error)

	// AdjustmentsByRefund returns the adjustments previously written for the
	// (reservationID, kind, refundID) idempotency triple.
	AdjustmentsByRefund(ctx context.Context, reservationID ReservationID, kind AdjustmentKind, refundID string) ([]AdjustmentTransaction, error)

	// --- usage history ---

	// UsageHistory returns the user's spends and adjustments interleaved,
	// newest first, with limit/offset paging.
	UsageHistory(ctx context.Context, userID UserID, limit, offset int) ([]HistoryEntry, error)

	// --- users ---

	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-table mutations
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
