package core

import (
	"MarginLedger/internal/state"
	"math"
)

// Outcome is the result of settling an order.
type Outcome uint8

const (
	OutcomeLoss Outcome = iota
	OutcomeWin
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLoss:
		return "loss"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// EvaluateFill applies the fill rule to an order at the observed price.
// Market orders always win. Limit longs win at or above the trigger, limit
// shorts at or below it. A limit order without a trigger compares against
// MaxUint64 (long) or 0 (short).
func EvaluateFill(o state.Order, observedPrice uint64) Outcome {
	switch o.Type {
	case state.OrderTypeMarket:
		return OutcomeWin
	case state.OrderTypeLimit:
		switch o.Position {
		case state.PositionLong:
			trigger := uint64(math.MaxUint64)
			if o.TriggerPrice != nil {
				trigger = *o.TriggerPrice
			}
			if observedPrice >= trigger {
				return OutcomeWin
			}
			return OutcomeLoss
		case state.PositionShort:
			var trigger uint64
			if o.TriggerPrice != nil {
				trigger = *o.TriggerPrice
			}
			if observedPrice <= trigger {
				return OutcomeWin
			}
			return OutcomeLoss
		}
	}
	// Unreachable for orders admitted by PlaceOrder.
	return OutcomeLoss
}
