package core

import (
	"MarginLedger/internal/state"
	"context"

	"github.com/google/uuid"
)

// AccountStore owns account records. Update gives fn exclusive access to the
// owner's account for the duration of the call and commits the mutated
// account only if fn returns nil; otherwise the stored record is unchanged.
// Calls for different owners may run in parallel.
type AccountStore interface {
	Create(ctx context.Context, owner uuid.UUID) (*state.Account, error)
	Get(ctx context.Context, owner uuid.UUID) (*state.Account, error)
	Update(ctx context.Context, owner uuid.UUID, fn func(*state.Account) error) error
}
