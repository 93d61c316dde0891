package ingestion_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/state"
	"MarginLedger/internal/transfer"
	"context"
	"testing"

	"github.com/google/uuid"
)

type acks struct {
	ack, nak, term int
}

func (a *acks) wire(raw ingestion.RawCommand) ingestion.RawCommand {
	raw.AckFunc = func() { a.ack++ }
	raw.NakFunc = func() { a.nak++ }
	raw.TermFunc = func() { a.term++ }
	return raw
}

type fixture struct {
	processor *ingestion.Processor
	engine    *core.Engine
	transfers *transfer.MemoryPrimitive
	owner     uuid.UUID
	orderID   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := core.DefaultConfig()
	store := persistence.NewMemoryStore()
	transfers := transfer.NewMemoryPrimitive()
	owner := uuid.New()

	transfers.Open(transfer.PoolAddress(cfg.Pool, "USDT"), transfer.PoolSigner(cfg.Pool), "USDT", 10_000)
	transfers.Open(transfer.UserAddress(owner, "USDT"), transfer.UserSigner(owner), "USDT", 1_000)

	engine, err := core.NewEngine(cfg, store, transfers)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.OpenAccount(ctx, owner); err != nil {
		t.Fatal(err)
	}
	store.Update(ctx, owner, func(a *state.Account) error {
		a.Collateral = ledger.Balances{A: 1_000}
		return nil
	})
	id, err := engine.PlaceOrder(ctx, core.PlaceOrderRequest{
		Owner: owner, Asset: "ETH-PERP", Position: state.PositionLong, Type: state.OrderTypeMarket,
		Amount: 100, Leverage: 2, MarginType: state.MarginTypeCross,
	})
	if err != nil {
		t.Fatal(err)
	}

	dedup := core.NewIdempotencyChecker(128, nil, nil)
	return &fixture{
		processor: ingestion.NewProcessor(engine, dedup, nil, zerologNop()),
		engine:    engine,
		transfers: transfers,
		owner:     owner,
		orderID:   id,
	}
}

func (f *fixture) settle(t *testing.T, commandID string) ingestion.RawCommand {
	return rawFromJSON(t, ingestion.CommandSettle, map[string]interface{}{
		"command_id":     commandID,
		"owner":          f.owner.String(),
		"order_id":       f.orderID,
		"observed_price": 10,
	})
}

func TestProcessor_AppliesSettleOnce(t *testing.T) {
	f := newFixture(t)
	var a acks

	if got := f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-1"))); got != ingestion.ResultApplied {
		t.Fatalf("got %s, want applied", got)
	}
	if got := f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-1"))); got != ingestion.ResultDuplicate {
		t.Errorf("redelivery: got %s, want duplicate", got)
	}
	if a.ack != 2 || a.nak != 0 {
		t.Errorf("acks: got %+v", a)
	}
	if n := len(f.transfers.History()); n != 1 {
		t.Errorf("got %d transfers, want 1", n)
	}
}

func TestProcessor_RejectsDeterministicFailure(t *testing.T) {
	f := newFixture(t)
	var a acks

	f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-1")))
	// A new command id for an already settled order is rejected.
	if got := f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-2"))); got != ingestion.ResultRejected {
		t.Errorf("got %s, want rejected", got)
	}
	if a.ack != 2 {
		t.Errorf("rejected commands are acked: got %+v", a)
	}
}

func TestProcessor_RetriesTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.transfers.Open(transfer.PoolAddress("dex", "USDT"), transfer.PoolSigner("dex"), "USDT", 0)
	var a acks

	if got := f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-1"))); got != ingestion.ResultRetry {
		t.Fatalf("got %s, want retry", got)
	}
	if a.nak != 1 {
		t.Errorf("transfer failure must nak: got %+v", a)
	}

	f.transfers.Open(transfer.PoolAddress("dex", "USDT"), transfer.PoolSigner("dex"), "USDT", 10_000)
	if got := f.processor.Handle(context.Background(), a.wire(f.settle(t, "s-1"))); got != ingestion.ResultApplied {
		t.Errorf("redelivery after recovery: got %s, want applied", got)
	}
}

func TestProcessor_Deposit(t *testing.T) {
	f := newFixture(t)
	var a acks

	raw := rawFromJSON(t, ingestion.CommandDeposit, map[string]interface{}{
		"command_id":   "d-1",
		"owner":        f.owner.String(),
		"denomination": "usdt",
		"amount":       250,
	})
	if got := f.processor.Handle(context.Background(), a.wire(raw)); got != ingestion.ResultApplied {
		t.Fatalf("got %s, want applied", got)
	}

	acct, _ := f.engine.Account(context.Background(), f.owner)
	if acct.Collateral.A != 1_050 {
		t.Errorf("collateral A: got %d, want 1050", acct.Collateral.A)
	}
	history := f.transfers.History()
	if last := history[len(history)-1]; last.Reference != "deposit:d-1" {
		t.Errorf("reference: got %q, want deposit:d-1", last.Reference)
	}
}

func TestProcessor_TerminatesMalformed(t *testing.T) {
	f := newFixture(t)
	var a acks

	raw := ingestion.RawCommand{Kind: ingestion.CommandSettle, Data: []byte("garbage")}
	if got := f.processor.Handle(context.Background(), a.wire(raw)); got != ingestion.ResultMalformed {
		t.Errorf("got %s, want malformed", got)
	}
	if a.term != 1 || a.ack != 0 {
		t.Errorf("acks: got %+v", a)
	}
}

func TestProcessor_RunDrainsChannel(t *testing.T) {
	f := newFixture(t)
	var a acks

	in := make(chan ingestion.RawCommand, 2)
	in <- a.wire(f.settle(t, "s-1"))
	in <- a.wire(f.settle(t, "s-1"))
	close(in)

	if err := f.processor.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.ack != 2 {
		t.Errorf("got %d acks, want 2", a.ack)
	}
}
