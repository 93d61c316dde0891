package transfer_test

import (
	"MarginLedger/internal/transfer"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func setup(t *testing.T) (*transfer.MemoryPrimitive, uuid.UUID) {
	t.Helper()
	m := transfer.NewMemoryPrimitive()
	owner := uuid.New()
	m.Open(transfer.UserAddress(owner, "USDT"), transfer.UserSigner(owner), "USDT", 100)
	m.Open(transfer.PoolAddress("dex", "USDT"), transfer.PoolSigner("dex"), "USDT", 1_000)
	return m, owner
}

func TestAddresses(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	if got := transfer.UserAddress(owner, "usdt"); got != "user:550e8400-e29b-41d4-a716-446655440000:USDT" {
		t.Errorf("got %q", got)
	}
	if got := transfer.PoolAddress("dex", "USDC"); got != "pool:dex:USDC" {
		t.Errorf("got %q", got)
	}
}

func TestMemoryPrimitive_Transfer(t *testing.T) {
	m, owner := setup(t)
	user := transfer.UserAddress(owner, "USDT")
	pool := transfer.PoolAddress("dex", "USDT")

	err := m.Transfer(context.Background(), transfer.Request{
		From: pool, To: user, Signer: transfer.PoolSigner("dex"), Denomination: "USDT", Amount: 500,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if bal, _ := m.Balance(user); bal != 600 {
		t.Errorf("user balance: got %d, want 600", bal)
	}
	if bal, _ := m.Balance(pool); bal != 500 {
		t.Errorf("pool balance: got %d, want 500", bal)
	}
	if len(m.History()) != 1 {
		t.Errorf("history: got %d entries, want 1", len(m.History()))
	}
}

func TestMemoryPrimitive_RejectsWrongSigner(t *testing.T) {
	m, owner := setup(t)

	err := m.Transfer(context.Background(), transfer.Request{
		From:         transfer.PoolAddress("dex", "USDT"),
		To:           transfer.UserAddress(owner, "USDT"),
		Signer:       transfer.UserSigner(owner),
		Denomination: "USDT",
		Amount:       1,
	})
	if !errors.Is(err, transfer.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMemoryPrimitive_InsufficientFundsMovesNothing(t *testing.T) {
	m, owner := setup(t)
	user := transfer.UserAddress(owner, "USDT")
	pool := transfer.PoolAddress("dex", "USDT")

	err := m.Transfer(context.Background(), transfer.Request{
		From: user, To: pool, Signer: transfer.UserSigner(owner), Denomination: "USDT", Amount: 101,
	})
	if !errors.Is(err, transfer.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := m.Balance(user); bal != 100 {
		t.Errorf("user balance changed: %d", bal)
	}
	if bal, _ := m.Balance(pool); bal != 1_000 {
		t.Errorf("pool balance changed: %d", bal)
	}
	if len(m.History()) != 0 {
		t.Error("failed transfer should not be recorded")
	}
}

func TestMemoryPrimitive_UnknownAccountAndDenomination(t *testing.T) {
	m, owner := setup(t)
	ctx := context.Background()

	err := m.Transfer(ctx, transfer.Request{
		From: transfer.UserAddress(uuid.New(), "USDT"), To: transfer.PoolAddress("dex", "USDT"),
		Signer: transfer.UserSigner(owner), Denomination: "USDT", Amount: 1,
	})
	if !errors.Is(err, transfer.ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}

	err = m.Transfer(ctx, transfer.Request{
		From: transfer.UserAddress(owner, "USDT"), To: transfer.PoolAddress("dex", "USDT"),
		Signer: transfer.UserSigner(owner), Denomination: "USDC", Amount: 1,
	})
	if !errors.Is(err, transfer.ErrDenomination) {
		t.Errorf("expected ErrDenomination, got %v", err)
	}
}

func TestMemoryPrimitive_ReferenceIsIdempotent(t *testing.T) {
	m, owner := setup(t)
	user := transfer.UserAddress(owner, "USDT")
	req := transfer.Request{
		From:         transfer.PoolAddress("dex", "USDT"),
		To:           user,
		Signer:       transfer.PoolSigner("dex"),
		Denomination: "USDT",
		Amount:       50,
		Reference:    "settle:1",
	}

	for i := 0; i < 3; i++ {
		if err := m.Transfer(context.Background(), req); err != nil {
			t.Fatalf("Transfer #%d: %v", i, err)
		}
	}
	if bal, _ := m.Balance(user); bal != 150 {
		t.Errorf("user balance: got %d, want 150", bal)
	}
	if len(m.History()) != 1 {
		t.Errorf("history: got %d entries, want 1", len(m.History()))
	}
}

func TestMemoryPrimitive_ReferenceConflict(t *testing.T) {
	m, owner := setup(t)
	user := transfer.UserAddress(owner, "USDT")
	pool := transfer.PoolAddress("dex", "USDT")
	payout := transfer.Request{
		From: pool, To: user, Signer: transfer.PoolSigner("dex"),
		Denomination: "USDT", Amount: 50, Reference: "settle:1",
	}
	if err := m.Transfer(context.Background(), payout); err != nil {
		t.Fatal(err)
	}

	clawback := transfer.Request{
		From: user, To: pool, Signer: transfer.UserSigner(owner),
		Denomination: "USDT", Amount: 50, Reference: "settle:1",
	}
	if err := m.Transfer(context.Background(), clawback); !errors.Is(err, transfer.ErrReferenceConflict) {
		t.Fatalf("got %v, want ErrReferenceConflict", err)
	}
	if bal, _ := m.Balance(user); bal != 150 {
		t.Errorf("user balance: got %d, want 150", bal)
	}

	// Same transfer with a differently cased denomination is still a replay.
	payout.Denomination = "usdt"
	if err := m.Transfer(context.Background(), payout); err != nil {
		t.Errorf("replay: %v", err)
	}
	if len(m.History()) != 1 {
		t.Errorf("history: got %d entries, want 1", len(m.History()))
	}
}
