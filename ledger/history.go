/*
history.go - Usage history

PURPOSE:
  Paged view over a user's spends and adjustments, newest first. Earn
  batches are queryable separately (they are permanent rows, not history
  events); this surface answers "what happened to my points?".
*/
package ledger

import "context"

// DefaultHistoryLimit caps unbounded history requests.
const DefaultHistoryLimit = 50

// GetUsageHistory returns the user's spend and adjustment records,
// interleaved newest first, with limit/offset paging.
func (s *Service) GetUsageHistory(ctx context.Context, userID UserID, limit, offset int) ([]HistoryEntry, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.UsageHistory(ctx, userID, limit, offset)
}
