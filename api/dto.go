/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TIMESTAMPS:
  All timestamps are RFC3339 strings in UTC. The zero expiration is
  rendered as a missing "expires_at" field (never expires).

VALIDATION:
  Validation is done in handlers and the ledger service, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateUserRequest is the request to create a user.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// =============================================================================
// EARNING
// =============================================================================

// AddPointsRequest credits a new batch of points to a user.
type AddPointsRequest struct {
	Amount        int64             `json:"amount"`
	SourceKind    string            `json:"source_kind"`
	ReservationID string            `json:"reservation_id,omitempty"`
	AvailableFrom string            `json:"available_from,omitempty"`
	ExpiresAt     string            `json:"expires_at,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// BatchDTO represents a point batch in API responses.
type BatchDTO struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	OriginalAmount  int64  `json:"original_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
	Status          string `json:"status"`
	SourceKind      string `json:"source_kind"`
	ReservationID   string `json:"reservation_id,omitempty"`
	AvailableFrom   string `json:"available_from"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	Description     string `json:"description,omitempty"`
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemRequest spends points against the oldest available batches.
type RedeemRequest struct {
	Amount        int64             `json:"amount"`
	ReservationID string            `json:"reservation_id,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConsumedBatchDTO shows how much one batch contributed to a redemption.
type ConsumedBatchDTO struct {
	BatchID        string `json:"batch_id"`
	AmountConsumed int64  `json:"amount_consumed"`
	RemainingAfter int64  `json:"remaining_after"`
}

// RedeemResponse summarizes a completed redemption.
type RedeemResponse struct {
	SpendTransactionID string             `json:"spend_transaction_id"`
	TotalUsed          int64              `json:"total_used"`
	ConsumedBatches    []ConsumedBatchDTO `json:"consumed_batches"`
	RemainingBalance   int64              `json:"remaining_balance"`
}

// =============================================================================
// BALANCE & PROJECTION
// =============================================================================

// BalanceDTO is the derived balance breakdown for a user.
type BalanceDTO struct {
	UserID    string `json:"user_id"`
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Used      int64  `json:"used"`
	Expired   int64  `json:"expired"`
	AsOf      string `json:"as_of"`
}

// ProjectionEntryDTO is one expiration bucket in a projection.
type ProjectionEntryDTO struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

// ProjectionDTO shows upcoming balance losses by expiration date.
type ProjectionDTO struct {
	UserID               string               `json:"user_id"`
	CurrentAvailable     int64                `json:"current_available"`
	ProjectedByDate      []ProjectionEntryDTO `json:"projected_by_date"`
	NeverExpiring        int64                `json:"never_expiring"`
	NextExpirationDate   string               `json:"next_expiration_date,omitempty"`
	NextExpirationAmount int64                `json:"next_expiration_amount,omitempty"`
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryEntryDTO is one spend or adjustment in a user's usage history.
type HistoryEntryDTO struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	ReservationID string `json:"reservation_id,omitempty"`
	RefundID      string `json:"refund_id,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// =============================================================================
// REFUND REVERSAL
// =============================================================================

// ReverseRequest reverses a reservation's point effects for a refund.
// Fraction is a decimal string in (0, 1], e.g. "1" or "0.5".
type ReverseRequest struct {
	ReservationID string `json:"reservation_id"`
	RefundID      string `json:"refund_id"`
	Fraction      string `json:"fraction"`
}

// AdjustmentDTO represents one reversal adjustment in API responses.
type AdjustmentDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	ReservationID string `json:"reservation_id"`
	RefundID      string `json:"refund_id"`
	CreatedAt     string `json:"created_at"`
}

// ReverseResponse summarizes a completed (or replayed) reversal.
type ReverseResponse struct {
	ReservationID  string          `json:"reservation_id"`
	RefundID       string          `json:"refund_id"`
	EarnedReversed int64           `json:"earned_reversed"`
	UsedRestored   int64           `json:"used_restored"`
	Adjustments    []AdjustmentDTO `json:"adjustments"`
}

// =============================================================================
// ADMIN & SCENARIOS
// =============================================================================

// SweepResponse reports one expiration sweep pass.
type SweepResponse struct {
	BatchesMarked int   `json:"batches_marked"`
	PointsExpired int64 `json:"points_expired"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func toBatchDTO(b ledger.PointBatch) BatchDTO {
	return BatchDTO{
		ID:              string(b.ID),
		UserID:          string(b.UserID),
		OriginalAmount:  int64(b.OriginalAmount),
		RemainingAmount: int64(b.RemainingAmount),
		Status:          string(b.Status),
		SourceKind:      string(b.SourceKind),
		ReservationID:   string(b.SourceReservationID),
		AvailableFrom:   formatTime(b.AvailableFrom),
		ExpiresAt:       formatTime(b.ExpiresAt),
		CreatedAt:       formatTime(b.CreatedAt),
		Description:     b.Description,
	}
}

func toAdjustmentDTO(a ledger.AdjustmentTransaction) AdjustmentDTO {
	return AdjustmentDTO{
		ID:            string(a.ID),
		UserID:        string(a.UserID),
		Kind:          string(a.Kind),
		Amount:        int64(a.Amount),
		ReservationID: string(a.ReservationID),
		RefundID:      a.RefundID,
		CreatedAt:     formatTime(a.CreatedAt),
	}
}
