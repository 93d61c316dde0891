package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Slot selects one of the two collateral balances of an account.
type Slot uint8

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	default:
		return "unknown"
	}
}

// Denomination describes one collateral unit (e.g. USDT with 6 decimals).
// Balances are always integer base units; Decimals is only used for display.
type Denomination struct {
	Symbol   string
	Decimals int32
}

// Format renders base units as a decimal string, e.g. 1500000 -> "1.5" for 6 decimals.
func (d Denomination) Format(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -d.Decimals).String()
}

// Denominations is the fixed collateral pair. Reservation drains A before B.
type Denominations struct {
	A Denomination
	B Denomination
}

// DefaultDenominations returns the USDT/USDC pair the ledger was built around.
func DefaultDenominations() Denominations {
	return Denominations{
		A: Denomination{Symbol: "USDT", Decimals: 6},
		B: Denomination{Symbol: "USDC", Decimals: 6},
	}
}

// Validate rejects empty or duplicate symbols.
func (d Denominations) Validate() error {
	if d.A.Symbol == "" || d.B.Symbol == "" {
		return fmt.Errorf("denomination symbols must be set (a=%q, b=%q)", d.A.Symbol, d.B.Symbol)
	}
	if strings.EqualFold(d.A.Symbol, d.B.Symbol) {
		return fmt.Errorf("denominations must be distinct: %s", d.A.Symbol)
	}
	return nil
}

// Resolve maps a symbol (case-insensitive) to its slot.
func (d Denominations) Resolve(symbol string) (Slot, bool) {
	switch {
	case strings.EqualFold(symbol, d.A.Symbol):
		return SlotA, true
	case strings.EqualFold(symbol, d.B.Symbol):
		return SlotB, true
	}
	return 0, false
}

// Get returns the denomination stored in a slot.
func (d Denominations) Get(slot Slot) Denomination {
	if slot == SlotB {
		return d.B
	}
	return d.A
}
