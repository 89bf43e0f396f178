/*
coordinator.go - Per-user serialization of mutating operations

PURPOSE:
  Guarantees that the read-eligible-batches, compute-consumption, write cycle
  of a mutating operation is isolated per user. Without this, two concurrent
  redemptions against the same under-funded balance could both observe
  sufficient points and both commit, overspending.

MODEL:
  One binary semaphore per user, created lazily. Operations on different
  users never block each other. Acquisition waits up to a configurable
  timeout; on timeout the operation fails with ErrLockTimeout instead of
  queueing indefinitely, so the caller can apply its own backoff.

SEE ALSO:
  - redeem.go, reverse.go, earn.go: All mutations acquire the user's lock
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// COORDINATOR - Keyed binary semaphores
// =============================================================================

// Coordinator serializes mutating operations per user.
type Coordinator struct {
	mu      sync.Mutex
	locks   map[UserID]chan struct{}
	timeout time.Duration
}

// DefaultLockTimeout bounds how long a mutation waits for its turn before
// surfacing ErrLockTimeout.
const DefaultLockTimeout = 5 * time.Second

func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Coordinator{
		locks:   make(map[UserID]chan struct{}),
		timeout: timeout,
	}
}

func (c *Coordinator) sem(userID UserID) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.locks[userID]
	if !ok {
		sem = make(chan struct{}, 1)
		c.locks[userID] = sem
	}
	return sem
}

// Acquire takes the user's lock, waiting up to the configured timeout.
// The returned release function must be called exactly once.
func (c *Coordinator) Acquire(ctx context.Context, userID UserID) (release func(), err error) {
	sem := c.sem(userID)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
