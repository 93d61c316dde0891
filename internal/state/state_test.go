package state_test

import (
	"MarginLedger/internal/state"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func u64(v uint64) *uint64 { return &v }

func TestNewAccount(t *testing.T) {
	owner := uuid.New()
	acct := state.NewAccount(owner)

	if acct.Owner != owner {
		t.Errorf("owner: got %s, want %s", acct.Owner, owner)
	}
	if acct.NextOrderID != state.FirstOrderID {
		t.Errorf("next_order_id: got %d, want %d", acct.NextOrderID, state.FirstOrderID)
	}
	if len(acct.Orders) != 0 {
		t.Errorf("expected no orders, got %d", len(acct.Orders))
	}
}

func TestAccount_AppendOrderAssignsIncreasingIDs(t *testing.T) {
	acct := state.NewAccount(uuid.New())

	first := acct.AppendOrder(state.Order{Amount: 1, Leverage: 1, MarginLocked: 1})
	second := acct.AppendOrder(state.Order{ID: 999, Amount: 2, Leverage: 1, MarginLocked: 2})

	if first != 1 || second != 2 {
		t.Errorf("ids: got %d,%d, want 1,2", first, second)
	}
	if acct.NextOrderID != 3 {
		t.Errorf("next_order_id: got %d, want 3", acct.NextOrderID)
	}
	if acct.Orders[1].ID != 2 {
		t.Errorf("caller-supplied id should be overwritten, got %d", acct.Orders[1].ID)
	}
	if err := acct.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAccount_FindOrder(t *testing.T) {
	acct := state.NewAccount(uuid.New())
	id := acct.AppendOrder(state.Order{Asset: "SOL", Amount: 1, Leverage: 1, MarginLocked: 1})

	o := acct.FindOrder(id)
	if o == nil {
		t.Fatal("order not found")
	}
	o.Settled = true
	if !acct.Orders[0].Settled {
		t.Error("FindOrder should return a pointer into the account")
	}

	if acct.FindOrder(42) != nil {
		t.Error("expected nil for unknown id")
	}
	if len(acct.OpenOrders()) != 0 {
		t.Error("settled order should not be open")
	}
}

func TestAccount_CloneIsDeep(t *testing.T) {
	acct := state.NewAccount(uuid.New())
	expires := time.Unix(1_700_000_000, 0).UTC()
	acct.AppendOrder(state.Order{
		Type:         state.OrderTypeLimit,
		TriggerPrice: u64(100),
		Amount:       10,
		Leverage:     2,
		MarginLocked: 20,
		ExpiresAt:    &expires,
	})
	acct.Collateral.A = 50

	c := acct.Clone()
	c.Collateral.A = 0
	*c.Orders[0].TriggerPrice = 1
	c.Orders[0].Settled = true
	c.AppendOrder(state.Order{Amount: 1, Leverage: 1, MarginLocked: 1})

	if acct.Collateral.A != 50 {
		t.Errorf("collateral leaked through clone: %d", acct.Collateral.A)
	}
	if *acct.Orders[0].TriggerPrice != 100 {
		t.Errorf("trigger price leaked through clone: %d", *acct.Orders[0].TriggerPrice)
	}
	if acct.Orders[0].Settled {
		t.Error("settled flag leaked through clone")
	}
	if len(acct.Orders) != 1 || acct.NextOrderID != 2 {
		t.Errorf("order sequence leaked through clone: %d orders, next=%d", len(acct.Orders), acct.NextOrderID)
	}
}

func TestAccount_ValidateRejectsBadMargin(t *testing.T) {
	acct := state.NewAccount(uuid.New())
	acct.AppendOrder(state.Order{Amount: 100, Leverage: 5, MarginLocked: 400})

	if err := acct.Validate(); err == nil {
		t.Error("expected error for margin_locked != amount * leverage")
	}
}

func TestAccount_ValidateRejectsIDAboveCounter(t *testing.T) {
	acct := state.NewAccount(uuid.New())
	acct.AppendOrder(state.Order{Amount: 1, Leverage: 1, MarginLocked: 1})
	acct.NextOrderID = 1

	if err := acct.Validate(); err == nil {
		t.Error("expected error when next_order_id does not exceed existing ids")
	}
}

func TestParseVariants(t *testing.T) {
	if p, err := state.ParsePosition("SHORT"); err != nil || p != state.PositionShort {
		t.Errorf("ParsePosition: got %v, %v", p, err)
	}
	if ot, err := state.ParseOrderType("limit"); err != nil || ot != state.OrderTypeLimit {
		t.Errorf("ParseOrderType: got %v, %v", ot, err)
	}
	if mt, err := state.ParseMarginType("isolated"); err != nil || mt != state.MarginTypeIsolated {
		t.Errorf("ParseMarginType: got %v, %v", mt, err)
	}
	if _, err := state.ParseOrderType("stop"); err == nil {
		t.Error("expected error for unknown order type")
	}
}

func TestOrder_JSONUsesVariantNames(t *testing.T) {
	o := state.Order{
		ID:           7,
		Position:     state.PositionShort,
		Type:         state.OrderTypeLimit,
		TriggerPrice: u64(25),
		MarginType:   state.MarginTypeIsolated,
	}
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"position":"short"`, `"order_type":"limit"`, `"margin_type":"isolated"`} {
		if !strings.Contains(s, want) {
			t.Errorf("json %s missing %s", s, want)
		}
	}

	if _, err := json.Marshal(state.Order{Position: state.Position(9)}); err == nil {
		t.Error("expected marshal error for invalid position")
	}
}
