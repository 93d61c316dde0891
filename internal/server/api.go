package server

import (
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/state"
	"time"
)

// Wire messages of marginledger.v1.Ledger. The same structs are the gRPC
// (JSON codec) payloads and the HTTP gateway bodies. Fields whose zero value
// is a meaningful choice are pointers, so an omitted field is rejected rather
// than read as that choice.

type OpenAccountRequest struct {
	Owner string `json:"owner"`
}

type GetAccountRequest struct {
	Owner string `json:"owner"`
}

type CollateralRequest struct {
	Owner        string `json:"owner"`
	Denomination string `json:"denomination"`
	Amount       uint64 `json:"amount"`
	Reference    string `json:"reference,omitempty"`
}

type CollateralResponse struct {
	Balance   Amount `json:"balance"`
	Reference string `json:"reference"`
}

type PlaceOrderRequest struct {
	Owner        string           `json:"owner"`
	Asset        string           `json:"asset"`
	Position     *state.Position   `json:"position"`
	OrderType    *state.OrderType  `json:"order_type"`
	TriggerPrice *uint64           `json:"trigger_price,omitempty"`
	Amount       uint64            `json:"amount"`
	Leverage     uint64            `json:"leverage"`
	MarginType   *state.MarginType `json:"margin_type"`
	StopLoss     *uint64           `json:"stop_loss,omitempty"`
	TakeProfit   *uint64           `json:"take_profit,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID uint64 `json:"order_id"`
}

type SettleOrderRequest struct {
	Owner         string `json:"owner"`
	OrderID       uint64 `json:"order_id"`
	ObservedPrice *uint64 `json:"observed_price"`
}

type SettleOrderResponse struct {
	OrderID uint64 `json:"order_id"`
	Outcome string `json:"outcome"`
}

// Amount renders integer units together with their decimal form.
type Amount struct {
	Denomination string `json:"denomination"`
	Units        uint64 `json:"units"`
	Value        string `json:"value"`
}

func newAmount(d ledger.Denomination, units uint64) Amount {
	return Amount{Denomination: d.Symbol, Units: units, Value: d.Format(units)}
}

type AccountView struct {
	Owner       string        `json:"owner"`
	Collateral  []Amount      `json:"collateral"`
	NextOrderID uint64        `json:"next_order_id"`
	Orders      []state.Order `json:"orders"`
}

func newAccountView(acct *state.Account, denoms ledger.Denominations) *AccountView {
	return &AccountView{
		Owner: acct.Owner.String(),
		Collateral: []Amount{
			newAmount(denoms.A, acct.Collateral.A),
			newAmount(denoms.B, acct.Collateral.B),
		},
		NextOrderID: acct.NextOrderID,
		Orders:      acct.Orders,
	}
}
