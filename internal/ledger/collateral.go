package ledger

import (
	fpmath "MarginLedger/internal/math"
	"errors"
	"fmt"
)

// ErrInsufficientCollateral is returned when a reservation or debit exceeds what is held.
var ErrInsufficientCollateral = errors.New("insufficient collateral")

// Balances holds the two collateral balances of one account, in base units.
type Balances struct {
	A uint64 `json:"a"`
	B uint64 `json:"b"`
}

// Locked reports how a reservation was drawn across the two denominations.
type Locked struct {
	FromA uint64 `json:"from_a"`
	FromB uint64 `json:"from_b"`
}

// Total returns FromA + FromB. Never overflows because the parts came from a checked reservation.
func (l Locked) Total() uint64 {
	return l.FromA + l.FromB
}

// Available returns A + B.
func (b *Balances) Available() (uint64, error) {
	total, err := fpmath.AddU64(b.A, b.B)
	if err != nil {
		return 0, fmt.Errorf("available collateral: %w", err)
	}
	return total, nil
}

// Reserve debits amount, draining A first and taking the remainder from B.
// On error the balances are left untouched.
func (b *Balances) Reserve(amount uint64) (Locked, error) {
	available, err := b.Available()
	if err != nil {
		return Locked{}, err
	}
	if available < amount {
		return Locked{}, fmt.Errorf("reserve %d with %d available: %w", amount, available, ErrInsufficientCollateral)
	}

	if b.A >= amount {
		b.A -= amount
		return Locked{FromA: amount}, nil
	}

	locked := Locked{FromA: b.A, FromB: amount - b.A}
	b.B -= locked.FromB
	b.A = 0
	return locked, nil
}

// CreditA adds amount to balance A.
func (b *Balances) CreditA(amount uint64) error {
	sum, err := fpmath.AddU64(b.A, amount)
	if err != nil {
		return fmt.Errorf("credit A: %w", err)
	}
	b.A = sum
	return nil
}

// CreditB adds amount to balance B.
func (b *Balances) CreditB(amount uint64) error {
	sum, err := fpmath.AddU64(b.B, amount)
	if err != nil {
		return fmt.Errorf("credit B: %w", err)
	}
	b.B = sum
	return nil
}

// Credit adds amount to the balance in the given slot.
func (b *Balances) Credit(slot Slot, amount uint64) error {
	if slot == SlotB {
		return b.CreditB(amount)
	}
	return b.CreditA(amount)
}

// Debit removes amount from a single slot. It never spills into the other slot.
func (b *Balances) Debit(slot Slot, amount uint64) error {
	bal := &b.A
	if slot == SlotB {
		bal = &b.B
	}
	if *bal < amount {
		return fmt.Errorf("debit %d from %s holding %d: %w", amount, slot, *bal, ErrInsufficientCollateral)
	}
	*bal -= amount
	return nil
}

// Balance returns the balance held in a slot.
func (b *Balances) Balance(slot Slot) uint64 {
	if slot == SlotB {
		return b.B
	}
	return b.A
}
