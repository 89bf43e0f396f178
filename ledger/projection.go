/*
projection.go - Expiration schedule

PURPOSE:
  Answers "how many of my points expire, and when?". Groups the user's
  currently eligible batches by expiry date, ascending, so callers can show
  an expiration timeline and nudge users before points are forfeited.
*/
package ledger

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// PROJECTION
// =============================================================================

// ProjectionEntry is the total eligible amount expiring on one date.
type ProjectionEntry struct {
	Date   time.Time
	Amount Points
}

// Projection is the user's expiration schedule.
type Projection struct {
	UserID           UserID
	AsOf             time.Time
	CurrentAvailable Points

	// ProjectedByDate lists expiring amounts grouped by expiresAt, ascending.
	// Batches that never expire contribute to CurrentAvailable and
	// NeverExpiring but not to the schedule.
	ProjectedByDate []ProjectionEntry
	NeverExpiring   Points

	NextExpirationDate   time.Time
	NextExpirationAmount Points
}

// GetProjection derives the expiration schedule from eligible batches.
func (s *Service) GetProjection(ctx context.Context, userID UserID) (*Projection, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.Now()
	batches, err := s.store.BatchesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	proj := &Projection{UserID: userID, AsOf: now}
	byDate := make(map[time.Time]Points)

	for _, b := range batches {
		if !b.EligibleAt(now) {
			continue
		}
		proj.CurrentAvailable += b.RemainingAmount
		if b.NeverExpires() {
			proj.NeverExpiring += b.RemainingAmount
			continue
		}
		byDate[b.ExpiresAt] += b.RemainingAmount
	}

	for date, amount := range byDate {
		proj.ProjectedByDate = append(proj.ProjectedByDate, ProjectionEntry{Date: date, Amount: amount})
	}
	sort.Slice(proj.ProjectedByDate, func(i, j int) bool {
		return proj.ProjectedByDate[i].Date.Before(proj.ProjectedByDate[j].Date)
	})

	if len(proj.ProjectedByDate) > 0 {
		proj.NextExpirationDate = proj.ProjectedByDate[0].Date
		proj.NextExpirationAmount = proj.ProjectedByDate[0].Amount
	}
	return proj, nil
}
