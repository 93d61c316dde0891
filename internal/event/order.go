package event

import "MarginLedger/internal/ledger"

type OrderPlaced struct {
	OrderID      uint64        `json:"order_id"`
	Asset        string        `json:"asset"`
	Position     string        `json:"position"`
	OrderType    string        `json:"order_type"`
	TriggerPrice *uint64       `json:"trigger_price,omitempty"`
	Amount       uint64        `json:"amount"`
	Leverage     uint64        `json:"leverage"`
	MarginType   string        `json:"margin_type"`
	MarginLocked uint64        `json:"margin_locked"`
	Drawn        ledger.Locked `json:"drawn"`
}

func (o *OrderPlaced) EventType() EventType {
	return EventTypeOrderPlaced
}

type OrderSettled struct {
	OrderID       uint64 `json:"order_id"`
	ObservedPrice uint64 `json:"observed_price"`
	Outcome       string `json:"outcome"`
	Amount        uint64 `json:"amount"`
	Denomination  string `json:"denomination"`
	From          string `json:"from"`
	To            string `json:"to"`
}

func (o *OrderSettled) EventType() EventType {
	return EventTypeOrderSettled
}
