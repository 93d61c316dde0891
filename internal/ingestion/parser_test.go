package ingestion_test

import (
	"MarginLedger/internal/ingestion"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, kind ingestion.CommandKind, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "margin.commands." + string(kind) + ".test",
		Kind:      kind,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestParseSettleCommand(t *testing.T) {
	raw := rawFromJSON(t, ingestion.CommandSettle, map[string]interface{}{
		"command_id":     "cmd-1",
		"owner":          "550e8400-e29b-41d4-a716-446655440000",
		"order_id":       uint64(7),
		"observed_price": uint64(math.MaxUint64),
	})

	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	sc, ok := cmd.(*ingestion.SettleCommand)
	if !ok {
		t.Fatalf("expected *ingestion.SettleCommand, got %T", cmd)
	}
	if sc.ID() != "cmd-1" || sc.OrderID != 7 {
		t.Errorf("got %+v", sc)
	}
	if sc.ObservedPrice != math.MaxUint64 {
		t.Errorf("observed price: got %d, want MaxUint64", sc.ObservedPrice)
	}
	if sc.Owner.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("owner: got %s", sc.Owner)
	}
}

func TestParseSettleCommand_ZeroPriceIsValid(t *testing.T) {
	raw := rawFromJSON(t, ingestion.CommandSettle, map[string]interface{}{
		"command_id":     "cmd-1",
		"owner":          "550e8400-e29b-41d4-a716-446655440000",
		"order_id":       1,
		"observed_price": 0,
	})
	if _, err := ingestion.ParseCommand(raw); err != nil {
		t.Errorf("zero price should parse: %v", err)
	}
}

func TestParseDepositCommand(t *testing.T) {
	raw := rawFromJSON(t, ingestion.CommandDeposit, map[string]interface{}{
		"command_id":   "dep-9",
		"owner":        "550e8400-e29b-41d4-a716-446655440000",
		"denomination": "USDC",
		"amount":       1_500_000,
	})

	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dc := cmd.(*ingestion.DepositCommand)
	if dc.Denomination != "USDC" || dc.Amount != 1_500_000 || dc.Kind() != ingestion.CommandDeposit {
		t.Errorf("got %+v", dc)
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	owner := "550e8400-e29b-41d4-a716-446655440000"
	tests := []struct {
		name string
		kind ingestion.CommandKind
		body interface{}
	}{
		{"missing command id", ingestion.CommandSettle, map[string]interface{}{"owner": owner, "order_id": 1, "observed_price": 1}},
		{"bad owner", ingestion.CommandSettle, map[string]interface{}{"command_id": "c", "owner": "nope", "order_id": 1, "observed_price": 1}},
		{"missing order id", ingestion.CommandSettle, map[string]interface{}{"command_id": "c", "owner": owner, "observed_price": 1}},
		{"missing price", ingestion.CommandSettle, map[string]interface{}{"command_id": "c", "owner": owner, "order_id": 1}},
		{"negative price", ingestion.CommandSettle, map[string]interface{}{"command_id": "c", "owner": owner, "order_id": 1, "observed_price": -1}},
		{"zero deposit", ingestion.CommandDeposit, map[string]interface{}{"command_id": "c", "owner": owner, "denomination": "USDT", "amount": 0}},
		{"missing denomination", ingestion.CommandDeposit, map[string]interface{}{"command_id": "c", "owner": owner, "amount": 5}},
		{"unknown kind", ingestion.CommandKind("liquidate"), map[string]interface{}{"command_id": "c", "owner": owner}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(rawFromJSON(t, tt.kind, tt.body))
			if !errors.Is(err, ingestion.ErrMalformedCommand) {
				t.Errorf("got %v, want ErrMalformedCommand", err)
			}
		})
	}

	bad := ingestion.RawCommand{Kind: ingestion.CommandSettle, Data: []byte("{not json")}
	if _, err := ingestion.ParseCommand(bad); !errors.Is(err, ingestion.ErrMalformedCommand) {
		t.Errorf("invalid json: got %v", err)
	}
}
