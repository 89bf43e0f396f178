/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the points ledger and FIFO redemption engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates all
  domain decisions to the ledger service.

ENDPOINTS:
  Users:
    GET    /api/users                   List all users
    POST   /api/users                   Create user
    GET    /api/users/{id}              Get user details
    GET    /api/users/{id}/batches      List the user's point batches

  Points:
    POST   /api/users/{id}/points       Credit a new batch
    POST   /api/users/{id}/redeem       FIFO redemption
    GET    /api/users/{id}/balance      Derived balance breakdown
    GET    /api/users/{id}/projection   Expiration schedule
    GET    /api/users/{id}/history      Spends and adjustments, newest first

  Refunds:
    POST   /api/refunds/reverse         Proportional reversal for a refund

  Admin:
    POST   /api/admin/sweep             Run the expiration sweep now

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid amounts, fractions, malformed input
  - 404: User not found
  - 409: Insufficient points
  - 503: Lock timeout or persistent write conflict (caller may retry)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service

	// Track currently loaded scenario (demo/dev only)
	currentScenario string
}

// NewHandler creates a new handler around the ledger service.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a new user.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	user, err := h.Service.CreateUser(r.Context(), ledger.UserID(req.ID), req.Name, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// GetUser returns one user.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	user, err := h.Service.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// ListBatches returns all point batches for a user, FIFO order.
// GET /api/users/{id}/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	if _, err := h.Service.GetUser(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	batches, err := h.Service.Store().BatchesByUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// AddPoints credits a new point batch to a user.
// POST /api/users/{id}/points
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	var req AddPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ledger.AddPointsInput{
		UserID:        id,
		Amount:        ledger.Points(req.Amount),
		SourceKind:    ledger.SourceKind(req.SourceKind),
		ReservationID: ledger.ReservationID(req.ReservationID),
		Description:   req.Description,
		Metadata:      req.Metadata,
	}
	if req.AvailableFrom != "" {
		t, err := time.Parse(time.RFC3339, req.AvailableFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid available_from (use RFC3339)", err)
			return
		}
		in.AvailableFrom = t
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC3339)", err)
			return
		}
		in.ExpiresAt = t
	}

	batch, err := h.Service.AddPoints(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// Redeem spends points against the oldest available batches.
// POST /api/users/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Service.RedeemFIFO(r.Context(), ledger.RedeemInput{
		UserID:        id,
		Amount:        ledger.Points(req.Amount),
		ReservationID: ledger.ReservationID(req.ReservationID),
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := RedeemResponse{
		SpendTransactionID: string(result.SpendTransactionID),
		TotalUsed:          int64(result.TotalUsed),
		ConsumedBatches:    make([]ConsumedBatchDTO, len(result.ConsumedBatches)),
		RemainingBalance:   int64(result.RemainingBalance),
	}
	for i, c := range result.ConsumedBatches {
		resp.ConsumedBatches[i] = ConsumedBatchDTO{
			BatchID:        string(c.BatchID),
			AmountConsumed: int64(c.AmountConsumed),
			RemainingAfter: int64(c.RemainingAfter),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance returns the derived balance breakdown.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	balance, err := h.Service.GetBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:    string(balance.UserID),
		Available: int64(balance.Available),
		Pending:   int64(balance.Pending),
		Used:      int64(balance.Used),
		Expired:   int64(balance.Expired),
		AsOf:      formatTime(balance.AsOf),
	})
}

// GetProjection returns the user's expiration schedule.
// GET /api/users/{id}/projection
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	proj, err := h.Service.GetProjection(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ProjectionDTO{
		UserID:               string(proj.UserID),
		CurrentAvailable:     int64(proj.CurrentAvailable),
		ProjectedByDate:      make([]ProjectionEntryDTO, len(proj.ProjectedByDate)),
		NeverExpiring:        int64(proj.NeverExpiring),
		NextExpirationDate:   formatTime(proj.NextExpirationDate),
		NextExpirationAmount: int64(proj.NextExpirationAmount),
	}
	for i, e := range proj.ProjectedByDate {
		resp.ProjectedByDate[i] = ProjectionEntryDTO{
			Date:   formatTime(e.Date),
			Amount: int64(e.Amount),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns spends and adjustments interleaved, newest first.
// GET /api/users/{id}/history?limit=50&offset=0
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	entries, err := h.Service.GetUsageHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryEntryDTO{
			Kind:          string(e.Kind),
			ID:            e.ID,
			Amount:        int64(e.Amount),
			ReservationID: string(e.ReservationID),
			RefundID:      e.RefundID,
			Description:   e.Description,
			CreatedAt:     formatTime(e.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFUND HANDLERS
// =============================================================================

// ReverseRefund reverses a reservation's point effects proportionally.
// POST /api/refunds/reverse
func (h *Handler) ReverseRefund(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ReservationID == "" || req.RefundID == "" {
		writeError(w, http.StatusBadRequest, "reservation_id and refund_id are required", nil)
		return
	}

	fraction, err := decimal.NewFromString(req.Fraction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fraction", err)
		return
	}

	result, err := h.Service.ReverseForRefund(r.Context(),
		ledger.ReservationID(req.ReservationID), fraction, req.RefundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ReverseResponse{
		ReservationID:  string(result.ReservationID),
		RefundID:       result.RefundID,
		EarnedReversed: int64(result.EarnedReversed),
		UsedRestored:   int64(result.UsedRestored),
		Adjustments:    make([]AdjustmentDTO, len(result.Adjustments)),
	}
	for i, a := range result.Adjustments {
		resp.Adjustments[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the expiration sweep immediately.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.ExpireSweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		BatchesMarked: result.BatchesMarked,
		PointsExpired: int64(result.PointsExpired),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps ledger errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found", err)
	case errors.Is(err, ledger.ErrInsufficientPoints):
		writeError(w, http.StatusConflict, "Insufficient points", err)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidFraction):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, ledger.ErrLockTimeout),
		errors.Is(err, ledger.ErrTransientFailure):
		writeError(w, http.StatusServiceUnavailable, "Temporarily unavailable, please retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
