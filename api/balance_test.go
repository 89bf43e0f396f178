/*
balance_test.go - HTTP-level tests for balance and projection endpoints

The arithmetic itself lives in the ledger package tests; these check the
endpoint wiring, JSON field mapping, and timestamp formatting.
*/
package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPI_Balance_BreaksDownByEligibility(t *testing.T) {
	// GIVEN: Available, pending, and expired batches plus a spend
	// WHEN: Fetching the balance
	// THEN: Each bucket lands in its own field, with as_of set

	router, svc := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/users", CreateUserRequest{ID: "user-1", Name: "Alice"})

	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 600, SourceKind: "purchase",
		AvailableFrom: apiNow.AddDate(0, 0, -10).Format(time.RFC3339),
	})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 300, SourceKind: "referral",
		AvailableFrom: apiNow.AddDate(0, 0, 5).Format(time.RFC3339),
	})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 200, SourceKind: "bonus",
		AvailableFrom: apiNow.AddDate(0, 0, -20).Format(time.RFC3339),
		ExpiresAt:     apiNow.AddDate(0, 0, 2).Format(time.RFC3339),
	})

	// Spend 150 from the oldest batch, then let the bonus batch lapse.
	rec := doJSON(t, router, http.MethodPost, "/api/users/user-1/redeem", RedeemRequest{Amount: 150})
	require.Equal(t, http.StatusOK, rec.Code)
	svc.Now = func() time.Time { return apiNow.AddDate(0, 0, 3) }

	rec = doJSON(t, router, http.MethodGet, "/api/users/user-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var bal BalanceDTO
	decodeInto(t, rec, &bal)
	assert.Equal(t, "user-1", bal.UserID)
	assert.Equal(t, int64(450), bal.Available)
	assert.Equal(t, int64(300), bal.Pending)
	assert.Equal(t, int64(150), bal.Used)
	assert.Equal(t, int64(200), bal.Expired)
	assert.Equal(t, apiNow.AddDate(0, 0, 3).Format(time.RFC3339), bal.AsOf)
}

func TestAPI_Balance_UnknownUser_Returns404(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/users/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Projection_GroupsByExpiryDate(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/users", CreateUserRequest{ID: "user-1", Name: "Alice"})

	soon := apiNow.AddDate(0, 0, 7)
	later := apiNow.AddDate(0, 1, 0)

	// Two batches at the near date merge into one projection bucket.
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 200, SourceKind: "bonus",
		AvailableFrom: apiNow.AddDate(0, 0, -5).Format(time.RFC3339),
		ExpiresAt:     soon.Format(time.RFC3339),
	})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 300, SourceKind: "purchase",
		AvailableFrom: apiNow.AddDate(0, 0, -3).Format(time.RFC3339),
		ExpiresAt:     soon.Format(time.RFC3339),
	})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 150, SourceKind: "purchase",
		AvailableFrom: apiNow.AddDate(0, 0, -1).Format(time.RFC3339),
		ExpiresAt:     later.Format(time.RFC3339),
	})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 1000, SourceKind: "admin",
		AvailableFrom: apiNow.AddDate(0, -1, 0).Format(time.RFC3339),
	})

	rec := doJSON(t, router, http.MethodGet, "/api/users/user-1/projection", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var proj ProjectionDTO
	decodeInto(t, rec, &proj)
	assert.Equal(t, int64(1650), proj.CurrentAvailable)
	assert.Equal(t, int64(1000), proj.NeverExpiring)
	require.Len(t, proj.ProjectedByDate, 2)
	assert.Equal(t, soon.Format(time.RFC3339), proj.ProjectedByDate[0].Date)
	assert.Equal(t, int64(500), proj.ProjectedByDate[0].Amount)
	assert.Equal(t, later.Format(time.RFC3339), proj.ProjectedByDate[1].Date)
	assert.Equal(t, int64(150), proj.ProjectedByDate[1].Amount)
	assert.Equal(t, soon.Format(time.RFC3339), proj.NextExpirationDate)
	assert.Equal(t, int64(500), proj.NextExpirationAmount)
}

func TestAPI_Projection_NoExpiringBatches_OmitsNextExpiration(t *testing.T) {
	router, _ := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/users", CreateUserRequest{ID: "user-1", Name: "Alice"})
	doJSON(t, router, http.MethodPost, "/api/users/user-1/points", AddPointsRequest{
		Amount: 500, SourceKind: "purchase",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/users/user-1/projection", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var proj ProjectionDTO
	decodeInto(t, rec, &proj)
	assert.Equal(t, int64(500), proj.NeverExpiring)
	assert.Empty(t, proj.ProjectedByDate)
	assert.Empty(t, proj.NextExpirationDate)
}
