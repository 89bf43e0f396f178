/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates users, point
	batches, and sometimes spends that demonstrate specific features.

AVAILABLE SCENARIOS:

	oldest-first:       Three batches earned on different days, ready to
	                    show FIFO consumption order
	batch-splitting:    Four small batches; a large redemption splits the
	                    middle one
	expiring-points:    A mix of expiring, pending, and never-expiring
	                    batches for balance/projection demos
	reservation-refund: Points earned from and spent on a reservation,
	                    ready for a reversal

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create users
 3. Credit batches with staggered timestamps
 4. Optionally redeem points

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "oldest-first"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - ledger/service.go: AddPoints, RedeemFIFO used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "oldest-first",
		Name:        "Oldest First",
		Description: "Three batches earned on different days; redemptions drain the oldest first",
	},
	{
		ID:          "batch-splitting",
		Name:        "Batch Splitting",
		Description: "Four small batches; a large redemption consumes some fully and one partially",
	},
	{
		ID:          "expiring-points",
		Name:        "Expiring Points",
		Description: "Expiring, pending, and never-expiring batches for balance and projection",
	},
	{
		ID:          "reservation-refund",
		Name:        "Reservation Refund",
		Description: "Points earned from and spent on a reservation, ready for reversal",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	rs, ok := h.Service.Store().(resetter)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "oldest-first":
		err = h.loadOldestFirstScenario(ctx)
	case "batch-splitting":
		err = h.loadBatchSplittingScenario(ctx)
	case "expiring-points":
		err = h.loadExpiringPointsScenario(ctx)
	case "reservation-refund":
		err = h.loadReservationRefundScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOldestFirstScenario(ctx context.Context) error {
	if _, err := h.Service.CreateUser(ctx, "user-001", "Alice Johnson", "alice@example.com"); err != nil {
		return err
	}

	// Three batches earned on consecutive days. A 1,200-point redemption
	// will drain the first fully and take 200 from the second.
	now := h.Service.Now()
	credits := []struct {
		amount  ledger.Points
		daysAgo int
		desc    string
	}{
		{1000, 3, "Booking reward: Lisbon trip"},
		{1500, 2, "Booking reward: Porto trip"},
		{800, 1, "Referral bonus"},
	}
	for _, c := range credits {
		_, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
			UserID:        "user-001",
			Amount:        c.amount,
			SourceKind:    ledger.SourcePurchase,
			AvailableFrom: now.AddDate(0, 0, -c.daysAgo),
			Description:   c.desc,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBatchSplittingScenario(ctx context.Context) error {
	if _, err := h.Service.CreateUser(ctx, "user-001", "Alice Johnson", "alice@example.com"); err != nil {
		return err
	}

	now := h.Service.Now()
	amounts := []ledger.Points{300, 250, 400, 150}
	for i, amount := range amounts {
		_, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
			UserID:        "user-001",
			Amount:        amount,
			SourceKind:    ledger.SourceBonus,
			AvailableFrom: now.AddDate(0, 0, i-len(amounts)),
			Description:   fmt.Sprintf("Promotion credit %d", i+1),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadExpiringPointsScenario(ctx context.Context) error {
	if _, err := h.Service.CreateUser(ctx, "user-001", "Alice Johnson", "alice@example.com"); err != nil {
		return err
	}

	now := h.Service.Now()

	// Expires in a week
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        500,
		SourceKind:    ledger.SourceBonus,
		AvailableFrom: now.AddDate(0, 0, -30),
		ExpiresAt:     now.AddDate(0, 0, 7),
		Description:   "Seasonal promotion",
	}); err != nil {
		return err
	}

	// Expires in a month
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        750,
		SourceKind:    ledger.SourcePurchase,
		AvailableFrom: now.AddDate(0, 0, -14),
		ExpiresAt:     now.AddDate(0, 1, 0),
		Description:   "Booking reward",
	}); err != nil {
		return err
	}

	// Pending: not redeemable until next week
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        300,
		SourceKind:    ledger.SourceReferral,
		AvailableFrom: now.AddDate(0, 0, 7),
		Description:   "Referral bonus (pending stay completion)",
	}); err != nil {
		return err
	}

	// Never expires
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        1000,
		SourceKind:    ledger.SourceAdmin,
		AvailableFrom: now.AddDate(0, -2, 0),
		Description:   "Loyalty tier grant",
	}); err != nil {
		return err
	}
	return nil
}

func (h *Handler) loadReservationRefundScenario(ctx context.Context) error {
	if _, err := h.Service.CreateUser(ctx, "user-001", "Alice Johnson", "alice@example.com"); err != nil {
		return err
	}

	now := h.Service.Now()

	// Older balance the spend will partly draw from
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        600,
		SourceKind:    ledger.SourcePurchase,
		AvailableFrom: now.AddDate(0, 0, -60),
		Description:   "Earlier booking reward",
	}); err != nil {
		return err
	}

	// Points earned from the reservation that will be refunded
	if _, err := h.Service.AddPoints(ctx, ledger.AddPointsInput{
		UserID:        "user-001",
		Amount:        1000,
		SourceKind:    ledger.SourcePurchase,
		ReservationID: "resv-demo-001",
		AvailableFrom: now.AddDate(0, 0, -30),
		Description:   "Booking reward: refundable stay",
	}); err != nil {
		return err
	}

	// A spend paying for the same reservation
	if _, err := h.Service.RedeemFIFO(ctx, ledger.RedeemInput{
		UserID:        "user-001",
		Amount:        800,
		ReservationID: "resv-demo-001",
		Description:   "Applied to refundable stay",
	}); err != nil {
		return err
	}

	// POST /api/refunds/reverse with reservation_id "resv-demo-001"
	// demonstrates the proportional reversal.
	return nil
}
