package persistence

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/state"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var _ core.AccountStore = (*PebbleStore)(nil)

const accountKeyPrefix = "acct/"

func accountKey(owner uuid.UUID) []byte {
	return append([]byte(accountKeyPrefix), owner[:]...)
}

// PebbleStore persists accounts as JSON documents in an embedded Pebble
// database. Writes are synced before Update returns.
type PebbleStore struct {
	db *pebble.DB

	// Per-owner write locks
	locks sync.Map
}

// OpenPebbleStore opens (or creates) a Pebble database at path. opts may be
// nil; tests pass &pebble.Options{FS: vfs.NewMem()}.
func OpenPebbleStore(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{
			Cache:        pebble.NewCache(64 << 20),
			MemTableSize: 32 << 20,
			BytesPerSync: 512 << 10,
		}
	}
	if opts.Cache != nil {
		defer opts.Cache.Unref()
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) lock(owner uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(owner, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *PebbleStore) load(owner uuid.UUID) (*state.Account, error) {
	data, closer, err := s.db.Get(accountKey(owner))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var acct state.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	if acct.Orders == nil {
		acct.Orders = []state.Order{}
	}
	return &acct, nil
}

func (s *PebbleStore) save(acct *state.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(acct.Owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *PebbleStore) Create(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lock(owner)
	defer unlock()

	if _, err := s.load(owner); err == nil {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountExists)
	} else if !errors.Is(err, state.ErrAccountNotFound) {
		return nil, err
	}

	acct := state.NewAccount(owner)
	if err := s.save(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *PebbleStore) Get(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load(owner)
}

func (s *PebbleStore) Update(ctx context.Context, owner uuid.UUID, fn func(*state.Account) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(owner)
	defer unlock()

	acct, err := s.load(owner)
	if err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	return s.save(acct)
}

// Owners lists every stored account owner in key order.
func (s *PebbleStore) Owners() ([]uuid.UUID, error) {
	prefix := []byte(accountKeyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var owners []uuid.UUID
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := uuid.FromBytes(iter.Key()[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("corrupt account key %x: %w", iter.Key(), err)
		}
		owners = append(owners, id)
	}
	return owners, iter.Error()
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
