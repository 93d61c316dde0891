package persistence

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/state"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var _ core.AccountStore = (*MemoryStore)(nil)

type memoryEntry struct {
	mu      sync.Mutex
	account *state.Account
}

// MemoryStore keeps accounts in process memory. Each account has its own
// mutex, so updates to different owners never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*memoryEntry)}
}

func (s *MemoryStore) Create(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[owner]; ok {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountExists)
	}
	acct := state.NewAccount(owner)
	s.entries[owner] = &memoryEntry{account: acct}
	return acct.Clone(), nil
}

func (s *MemoryStore) entry(owner uuid.UUID) (*memoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[owner]
	if !ok {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountNotFound)
	}
	return e, nil
}

func (s *MemoryStore) Get(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(owner)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Clone(), nil
}

// Update runs fn on a clone and swaps it in only when fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, owner uuid.UUID, fn func(*state.Account) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entry(owner)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.account.Clone()
	if err := fn(working); err != nil {
		return err
	}
	e.account = working
	return nil
}

// Len returns the number of accounts held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
