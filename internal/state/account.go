package state

import (
	"MarginLedger/internal/ledger"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// FirstOrderID is the id handed to the first order of a fresh account.
const FirstOrderID uint64 = 1

// Account is one user's collateral and order book. Orders are stored by value
// in creation order; nothing outside the account references them.
type Account struct {
	Owner       uuid.UUID       `json:"owner"`
	Collateral  ledger.Balances `json:"collateral"`
	Orders      []Order         `json:"orders"`
	NextOrderID uint64          `json:"next_order_id"`
}

// NewAccount returns an empty account ready to take its first order.
func NewAccount(owner uuid.UUID) *Account {
	return &Account{
		Owner:       owner,
		Orders:      []Order{},
		NextOrderID: FirstOrderID,
	}
}

// Clone returns a deep copy. Stores hand clones to mutators so a failed
// operation can be discarded without touching the committed record.
func (a *Account) Clone() *Account {
	c := &Account{
		Owner:       a.Owner,
		Collateral:  a.Collateral,
		Orders:      make([]Order, len(a.Orders)),
		NextOrderID: a.NextOrderID,
	}
	for i, o := range a.Orders {
		c.Orders[i] = o.clone()
	}
	return c
}

// AppendOrder assigns the next id to o, appends it and returns the id.
func (a *Account) AppendOrder(o Order) uint64 {
	o.ID = a.NextOrderID
	a.NextOrderID++
	a.Orders = append(a.Orders, o)
	return o.ID
}

// FindOrder returns a pointer into the account's order sequence, or nil.
func (a *Account) FindOrder(id uint64) *Order {
	for i := range a.Orders {
		if a.Orders[i].ID == id {
			return &a.Orders[i]
		}
	}
	return nil
}

// OpenOrders returns the orders that are not yet settled.
func (a *Account) OpenOrders() []Order {
	open := make([]Order, 0, len(a.Orders))
	for _, o := range a.Orders {
		if !o.Settled {
			open = append(open, o)
		}
	}
	return open
}

// Validate checks the account's structural invariants: ids strictly increase
// in creation order, every id is below NextOrderID, and locked margin matches
// amount * leverage.
func (a *Account) Validate() error {
	var prev uint64
	for i, o := range a.Orders {
		if o.ID < FirstOrderID || o.ID >= a.NextOrderID {
			return fmt.Errorf("order %d outside id range [%d, %d)", o.ID, FirstOrderID, a.NextOrderID)
		}
		if i > 0 && o.ID <= prev {
			return fmt.Errorf("order %d does not follow order %d", o.ID, prev)
		}
		if o.Amount != 0 && (o.MarginLocked%o.Amount != 0 || o.MarginLocked/o.Amount != o.Leverage) {
			return fmt.Errorf("order %d: margin_locked %d != amount %d * leverage %d",
				o.ID, o.MarginLocked, o.Amount, o.Leverage)
		}
		prev = o.ID
	}
	return nil
}
