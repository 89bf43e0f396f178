/*
service.go - Ledger service facade and user management

PURPOSE:
  Service composes the store, the coordinator, and the engine configuration
  into the operation surface consumed by collaborators: AddPoints,
  RedeemFIFO, GetBalance, GetProjection, GetUsageHistory, ReverseForRefund.
  The engine implementations live in earn.go, redeem.go, balance.go,
  projection.go, history.go, and reverse.go.

CLOCK:
  Now is injected so tests can pin time. Eligibility, expiry, and balance
  reads all evaluate now exactly once per operation.

SEE ALSO:
  - store.go: TxStore contract the service runs against
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the engine's tunables.
type Config struct {
	// Redemption bounds, inclusive. Requests outside [MinRedeem, MaxRedeem]
	// fail with ErrInvalidAmount before any read.
	MinRedeem Points
	MaxRedeem Points

	// MaxConflictRetries bounds internal retries on ErrConcurrentModification.
	MaxConflictRetries int

	// LockTimeout bounds waiting for the per-user lock.
	LockTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MinRedeem:          1,
		MaxRedeem:          1_000_000,
		MaxConflictRetries: 3,
		LockTimeout:        DefaultLockTimeout,
	}
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the ledger's operation surface.
type Service struct {
	store TxStore
	coord *Coordinator
	cfg   Config

	// Now returns the current time. Overridable in tests.
	Now func() time.Time
}

func NewService(store TxStore, cfg Config) *Service {
	if cfg.MinRedeem <= 0 {
		cfg.MinRedeem = 1
	}
	if cfg.MaxRedeem <= 0 {
		cfg.MaxRedeem = DefaultConfig().MaxRedeem
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = DefaultConfig().MaxConflictRetries
	}
	return &Service{
		store: store,
		coord: NewCoordinator(cfg.LockTimeout),
		cfg:   cfg,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the underlying store for read-side collaborators.
func (s *Service) Store() TxStore { return s.store }

func newID() string { return uuid.NewString() }

// requireUser resolves a user or fails with ErrUserNotFound.
func (s *Service) requireUser(ctx context.Context, userID UserID) (*User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// =============================================================================
// USER MANAGEMENT
// =============================================================================

// CreateUser registers a user. The id may be supplied by the caller (e.g.
// the platform's account id); when empty a uuid is generated.
func (s *Service) CreateUser(ctx context.Context, id UserID, name, email string) (*User, error) {
	if id == "" {
		id = UserID(newID())
	}
	u := User{
		ID:        id,
		Name:      name,
		Email:     email,
		CreatedAt: s.Now(),
	}
	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) GetUser(ctx context.Context, id UserID) (*User, error) {
	return s.requireUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}
