package state

import (
	"fmt"
	"strings"
	"time"
)

// Position is the side of an order.
type Position uint8

const (
	PositionLong Position = iota
	PositionShort
)

func (p Position) String() string {
	switch p {
	case PositionLong:
		return "long"
	case PositionShort:
		return "short"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the declared variants.
func (p Position) Valid() bool {
	return p == PositionLong || p == PositionShort
}

func (p Position) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid position %d", p)
	}
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(b []byte) error {
	v, err := ParsePosition(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePosition accepts "long" or "short" (case-insensitive).
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(s) {
	case "long":
		return PositionLong, nil
	case "short":
		return PositionShort, nil
	}
	return 0, fmt.Errorf("unknown position %q", s)
}

// OrderType decides the fill rule applied at settlement.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	default:
		return "unknown"
	}
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

func (t OrderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid order type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(s) {
	case "market":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

// MarginType is recorded on the order but does not change margin behavior yet.
type MarginType uint8

const (
	MarginTypeCross MarginType = iota
	MarginTypeIsolated
)

func (m MarginType) String() string {
	switch m {
	case MarginTypeCross:
		return "cross"
	case MarginTypeIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

func (m MarginType) Valid() bool {
	return m == MarginTypeCross || m == MarginTypeIsolated
}

func (m MarginType) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid margin type %d", m)
	}
	return []byte(m.String()), nil
}

func (m *MarginType) UnmarshalText(b []byte) error {
	v, err := ParseMarginType(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func ParseMarginType(s string) (MarginType, error) {
	switch strings.ToLower(s) {
	case "cross":
		return MarginTypeCross, nil
	case "isolated":
		return MarginTypeIsolated, nil
	}
	return 0, fmt.Errorf("unknown margin type %q", s)
}

// Order is a leveraged order owned by exactly one Account.
// StopLoss, TakeProfit and ExpiresAt are stored for downstream consumers;
// settlement does not evaluate them.
type Order struct {
	ID           uint64     `json:"id"`
	Asset        string     `json:"asset"`
	Position     Position   `json:"position"`
	Type         OrderType  `json:"order_type"`
	TriggerPrice *uint64    `json:"trigger_price,omitempty"`
	Amount       uint64     `json:"amount"`
	Leverage     uint64     `json:"leverage"`
	MarginType   MarginType `json:"margin_type"`
	StopLoss     *uint64    `json:"stop_loss,omitempty"`
	TakeProfit   *uint64    `json:"take_profit,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	// MarginLocked is fixed at placement; settlement moves exactly this amount.
	MarginLocked uint64 `json:"margin_locked"`
	Settled      bool   `json:"settled"`
}

func (o Order) clone() Order {
	c := o
	c.TriggerPrice = cloneU64(o.TriggerPrice)
	c.StopLoss = cloneU64(o.StopLoss)
	c.TakeProfit = cloneU64(o.TakeProfit)
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}

func cloneU64(p *uint64) *uint64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
