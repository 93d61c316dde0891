package transfer

import (
	fpmath "MarginLedger/internal/math"
	"context"
	"fmt"
	"strings"
	"sync"
)

type tokenAccount struct {
	authority    Signer
	denomination string
	balance      uint64
}

// MemoryPrimitive is an in-process token custody used for development and tests.
type MemoryPrimitive struct {
	mu       sync.Mutex
	accounts map[Address]*tokenAccount
	applied  map[string]Request
	history  []Request
}

func NewMemoryPrimitive() *MemoryPrimitive {
	return &MemoryPrimitive{
		accounts: make(map[Address]*tokenAccount),
		applied:  make(map[string]Request),
	}
}

// Open creates (or resets) a token account.
func (m *MemoryPrimitive) Open(addr Address, authority Signer, denomination string, balance uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[addr] = &tokenAccount{
		authority:    authority,
		denomination: strings.ToUpper(denomination),
		balance:      balance,
	}
}

// Balance returns the balance of addr, or false if the account does not exist.
func (m *MemoryPrimitive) Balance(addr Address) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[addr]
	if !ok {
		return 0, false
	}
	return acc.balance, true
}

// History returns every successful transfer in execution order.
func (m *MemoryPrimitive) History() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.history))
	copy(out, m.history)
	return out
}

func (m *MemoryPrimitive) Transfer(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Reference != "" {
		if prev, done := m.applied[req.Reference]; done {
			if !sameTransfer(prev, req) {
				return fmt.Errorf("%s: %w (recorded %s)", req.Reference, ErrReferenceConflict, prev)
			}
			return nil
		}
	}

	from, ok := m.accounts[req.From]
	if !ok {
		return fmt.Errorf("%s: %w", req.From, ErrUnknownAccount)
	}
	to, ok := m.accounts[req.To]
	if !ok {
		return fmt.Errorf("%s: %w", req.To, ErrUnknownAccount)
	}
	denom := strings.ToUpper(req.Denomination)
	if from.denomination != denom || to.denomination != denom {
		return fmt.Errorf("%s: %w", req, ErrDenomination)
	}
	if from.authority != req.Signer {
		return fmt.Errorf("%s: %w", req, ErrUnauthorized)
	}
	if from.balance < req.Amount {
		return fmt.Errorf("%s has %d: %w", req.From, from.balance, ErrInsufficientFunds)
	}
	credited, err := fpmath.AddU64(to.balance, req.Amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", req.To, err)
	}

	from.balance -= req.Amount
	to.balance = credited
	if req.Reference != "" {
		m.applied[req.Reference] = req
	}
	m.history = append(m.history, req)
	return nil
}
