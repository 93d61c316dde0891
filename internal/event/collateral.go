package event

type AccountOpened struct{}

func (a *AccountOpened) EventType() EventType {
	return EventTypeAccountOpened
}

type CollateralDeposited struct {
	Denomination string `json:"denomination"`
	Amount       uint64 `json:"amount"`
	BalanceAfter uint64 `json:"balance_after"`
}

func (c *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

type CollateralWithdrawn struct {
	Denomination string `json:"denomination"`
	Amount       uint64 `json:"amount"`
	BalanceAfter uint64 `json:"balance_after"`
}

func (c *CollateralWithdrawn) EventType() EventType {
	return EventTypeCollateralWithdrawn
}
