package core_test

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/state"
	"MarginLedger/internal/testutil"
	"math"
	"testing"
)

func TestEvaluateFill_MarketAlwaysWins(t *testing.T) {
	prices := []uint64{0, 1, 100, math.MaxUint64}
	for _, pos := range []state.Position{state.PositionLong, state.PositionShort} {
		for _, p := range prices {
			o := state.Order{Position: pos, Type: state.OrderTypeMarket}
			if got := core.EvaluateFill(o, p); got != core.OutcomeWin {
				t.Errorf("%s market @%d: got %s, want win", pos, p, got)
			}
		}
	}
}

func TestEvaluateFill_Limit(t *testing.T) {
	const trigger = 1_000
	tests := []struct {
		name     string
		position state.Position
		price    uint64
		want     core.Outcome
	}{
		{"long below", state.PositionLong, trigger - 1, core.OutcomeLoss},
		{"long at", state.PositionLong, trigger, core.OutcomeWin},
		{"long above", state.PositionLong, trigger + 1, core.OutcomeWin},
		{"long max", state.PositionLong, math.MaxUint64, core.OutcomeWin},
		{"long zero", state.PositionLong, 0, core.OutcomeLoss},
		{"short below", state.PositionShort, trigger - 1, core.OutcomeWin},
		{"short at", state.PositionShort, trigger, core.OutcomeWin},
		{"short above", state.PositionShort, trigger + 1, core.OutcomeLoss},
		{"short zero", state.PositionShort, 0, core.OutcomeWin},
		{"short max", state.PositionShort, math.MaxUint64, core.OutcomeLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := state.Order{Position: tt.position, Type: state.OrderTypeLimit, TriggerPrice: testutil.U64(trigger)}
			if got := core.EvaluateFill(o, tt.price); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEvaluateFill_LimitWithoutTrigger(t *testing.T) {
	long := state.Order{Position: state.PositionLong, Type: state.OrderTypeLimit}
	if got := core.EvaluateFill(long, math.MaxUint64-1); got != core.OutcomeLoss {
		t.Errorf("long below MaxUint64: got %s, want loss", got)
	}
	if got := core.EvaluateFill(long, math.MaxUint64); got != core.OutcomeWin {
		t.Errorf("long at MaxUint64: got %s, want win", got)
	}

	short := state.Order{Position: state.PositionShort, Type: state.OrderTypeLimit}
	if got := core.EvaluateFill(short, 0); got != core.OutcomeWin {
		t.Errorf("short at 0: got %s, want win", got)
	}
	if got := core.EvaluateFill(short, 1); got != core.OutcomeLoss {
		t.Errorf("short at 1: got %s, want loss", got)
	}
}
