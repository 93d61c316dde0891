package core

import (
	"MarginLedger/internal/ledger"
	"fmt"
	"strings"
)

// EligibilityPolicy selects the threshold placement is gated on before margin
// is reserved. Reservation always checks the leveraged amount independently.
type EligibilityPolicy uint8

const (
	// EligibilityNotional gates on available >= amount (unleveraged).
	EligibilityNotional EligibilityPolicy = iota
	// EligibilityLeveraged gates on available >= amount * leverage.
	EligibilityLeveraged
)

func (p EligibilityPolicy) String() string {
	switch p {
	case EligibilityNotional:
		return "notional"
	case EligibilityLeveraged:
		return "leveraged"
	default:
		return "unknown"
	}
}

func ParseEligibilityPolicy(s string) (EligibilityPolicy, error) {
	switch strings.ToLower(s) {
	case "notional", "":
		return EligibilityNotional, nil
	case "leveraged":
		return EligibilityLeveraged, nil
	}
	return 0, fmt.Errorf("unknown eligibility policy %q", s)
}

// Config holds engine parameters. Denominations are passed in, never global.
type Config struct {
	Denominations ledger.Denominations
	Eligibility   EligibilityPolicy

	// Pool names the counterparty whose token accounts pay wins and absorb losses.
	Pool string

	// SettlementSlot picks the denomination settlement transfers are made in.
	SettlementSlot ledger.Slot
}

func DefaultConfig() Config {
	return Config{
		Denominations:  ledger.DefaultDenominations(),
		Eligibility:    EligibilityNotional,
		Pool:           "dex",
		SettlementSlot: ledger.SlotA,
	}
}

func (c Config) Validate() error {
	if err := c.Denominations.Validate(); err != nil {
		return err
	}
	if c.Pool == "" {
		return fmt.Errorf("pool name must be set")
	}
	if c.Eligibility != EligibilityNotional && c.Eligibility != EligibilityLeveraged {
		return fmt.Errorf("invalid eligibility policy %d", c.Eligibility)
	}
	if c.SettlementSlot != ledger.SlotA && c.SettlementSlot != ledger.SlotB {
		return fmt.Errorf("invalid settlement slot %d", c.SettlementSlot)
	}
	return nil
}
