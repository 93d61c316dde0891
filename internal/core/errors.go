package core

import (
	"MarginLedger/internal/ledger"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/state"
	"MarginLedger/internal/transfer"
	"errors"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadySettled      = errors.New("order already settled")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidLeverage     = errors.New("leverage must be at least 1")
	ErrMissingTriggerPrice = errors.New("limit order requires a trigger price")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrUnknownDenomination = errors.New("unknown denomination")
)

// Reason returns a short, stable label for err, used for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, fpmath.ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	// Checked before ErrTransferFailed: a conflict is not retryable.
	case errors.Is(err, transfer.ErrReferenceConflict):
		return "reference_conflict"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidLeverage),
		errors.Is(err, ErrMissingTriggerPrice),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrUnknownDenomination):
		return "invalid_argument"
	case errors.Is(err, state.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, state.ErrAccountExists):
		return "account_exists"
	default:
		return "internal"
	}
}
