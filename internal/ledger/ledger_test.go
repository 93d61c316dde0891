package ledger_test

import (
	"MarginLedger/internal/ledger"
	fpmath "MarginLedger/internal/math"
	"errors"
	"math"
	"testing"
)

// ============================================================================
// Test: Denominations
// ============================================================================

func TestDenominations_Resolve(t *testing.T) {
	d := ledger.DefaultDenominations()

	slot, ok := d.Resolve("usdt")
	if !ok || slot != ledger.SlotA {
		t.Errorf("usdt: got %v/%v, want SlotA", slot, ok)
	}
	slot, ok = d.Resolve("USDC")
	if !ok || slot != ledger.SlotB {
		t.Errorf("USDC: got %v/%v, want SlotB", slot, ok)
	}
	if _, ok := d.Resolve("DAI"); ok {
		t.Error("DAI should not resolve")
	}
}

func TestDenominations_Validate(t *testing.T) {
	if err := ledger.DefaultDenominations().Validate(); err != nil {
		t.Errorf("default pair should be valid: %v", err)
	}

	dup := ledger.Denominations{
		A: ledger.Denomination{Symbol: "USDT"},
		B: ledger.Denomination{Symbol: "usdt"},
	}
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicate symbols")
	}

	if err := (ledger.Denominations{}).Validate(); err == nil {
		t.Error("expected error for empty symbols")
	}
}

func TestDenomination_Format(t *testing.T) {
	d := ledger.Denomination{Symbol: "USDT", Decimals: 6}
	if got := d.Format(1_500_000); got != "1.5" {
		t.Errorf("got %q, want %q", got, "1.5")
	}
	if got := d.Format(math.MaxUint64); got != "18446744073709.551615" {
		t.Errorf("got %q, want %q", got, "18446744073709.551615")
	}
}

// ============================================================================
// Test: Collateral balances
// ============================================================================

func TestBalances_Available(t *testing.T) {
	b := ledger.Balances{A: 700, B: 300}
	got, err := b.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestBalances_AvailableOverflow(t *testing.T) {
	b := ledger.Balances{A: math.MaxUint64, B: 1}
	if _, err := b.Available(); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestBalances_ReserveFromAOnly(t *testing.T) {
	b := ledger.Balances{A: 1000, B: 50}

	locked, err := b.Reserve(500)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if locked.FromA != 500 || locked.FromB != 0 {
		t.Errorf("locked: got %+v, want FromA=500 FromB=0", locked)
	}
	if b.A != 500 || b.B != 50 {
		t.Errorf("balances: got %+v, want A=500 B=50", b)
	}
}

func TestBalances_ReserveExactA(t *testing.T) {
	b := ledger.Balances{A: 500, B: 500}

	if _, err := b.Reserve(500); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if b.A != 0 || b.B != 500 {
		t.Errorf("balances: got %+v, want A=0 B=500", b)
	}
}

// A is always drained to zero before B is touched.
func TestBalances_ReserveSpansBoth(t *testing.T) {
	for amount := uint64(301); amount <= 1000; amount += 37 {
		b := ledger.Balances{A: 300, B: 700}

		locked, err := b.Reserve(amount)
		if err != nil {
			t.Fatalf("Reserve(%d): %v", amount, err)
		}
		if b.A != 0 {
			t.Errorf("Reserve(%d): A should be drained, got %d", amount, b.A)
		}
		if b.B != 1000-amount {
			t.Errorf("Reserve(%d): B got %d, want %d", amount, b.B, 1000-amount)
		}
		if locked.FromA != 300 || locked.FromB != amount-300 {
			t.Errorf("Reserve(%d): locked got %+v", amount, locked)
		}
		if locked.Total() != amount {
			t.Errorf("Reserve(%d): locked total %d", amount, locked.Total())
		}
	}
}

func TestBalances_ReserveInsufficientLeavesBalances(t *testing.T) {
	b := ledger.Balances{A: 300, B: 200}

	_, err := b.Reserve(501)
	if !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if b.A != 300 || b.B != 200 {
		t.Errorf("balances changed on failure: %+v", b)
	}
}

func TestBalances_ReserveConservesSum(t *testing.T) {
	cases := []struct {
		a, b, amount uint64
	}{
		{1000, 0, 1000},
		{0, 1000, 1},
		{10, 10, 15},
		{0, 0, 0},
	}
	for _, c := range cases {
		b := ledger.Balances{A: c.a, B: c.b}
		before, _ := b.Available()
		if _, err := b.Reserve(c.amount); err != nil {
			t.Fatalf("Reserve(%d) on %d/%d: %v", c.amount, c.a, c.b, err)
		}
		after, _ := b.Available()
		if after != before-c.amount {
			t.Errorf("sum after reserve: got %d, want %d", after, before-c.amount)
		}
	}
}

func TestBalances_Credit(t *testing.T) {
	b := ledger.Balances{}
	if err := b.CreditA(100); err != nil {
		t.Fatalf("CreditA: %v", err)
	}
	if err := b.Credit(ledger.SlotB, 40); err != nil {
		t.Fatalf("Credit(B): %v", err)
	}
	if b.A != 100 || b.B != 40 {
		t.Errorf("balances: got %+v, want A=100 B=40", b)
	}

	b.B = math.MaxUint64
	if err := b.CreditB(1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if b.B != math.MaxUint64 {
		t.Errorf("B changed on failed credit: %d", b.B)
	}
}

func TestBalances_DebitSingleSlot(t *testing.T) {
	b := ledger.Balances{A: 100, B: 1000}

	// Debit never spills into the other denomination
	if err := b.Debit(ledger.SlotA, 101); !errors.Is(err, ledger.ErrInsufficientCollateral) {
		t.Errorf("expected ErrInsufficientCollateral, got %v", err)
	}
	if err := b.Debit(ledger.SlotB, 400); err != nil {
		t.Fatalf("Debit(B): %v", err)
	}
	if b.A != 100 || b.B != 600 {
		t.Errorf("balances: got %+v, want A=100 B=600", b)
	}
}
