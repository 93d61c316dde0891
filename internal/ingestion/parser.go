package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformedCommand = errors.New("malformed command")

// CommandKind names a command family. It is also the dedup namespace.
type CommandKind string

const (
	CommandSettle  CommandKind = "settle"
	CommandDeposit CommandKind = "deposit"
)

// Command is a parsed, validated inbound command.
type Command interface {
	Kind() CommandKind
	ID() string
}

// SettleCommand asks the ledger to settle one order at an observed price.
type SettleCommand struct {
	CommandID     string
	Owner         uuid.UUID
	OrderID       uint64
	ObservedPrice uint64
}

func (c *SettleCommand) Kind() CommandKind { return CommandSettle }
func (c *SettleCommand) ID() string        { return c.CommandID }

// DepositCommand credits collateral after moving tokens into the pool.
type DepositCommand struct {
	CommandID    string
	Owner        uuid.UUID
	Denomination string
	Amount       uint64
}

func (c *DepositCommand) Kind() CommandKind { return CommandDeposit }
func (c *DepositCommand) ID() string        { return c.CommandID }

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type settleJSON struct {
	CommandID     string  `json:"command_id"`
	Owner         string  `json:"owner"`
	OrderID       *uint64 `json:"order_id"`
	ObservedPrice *uint64 `json:"observed_price"`
}

type depositJSON struct {
	CommandID    string `json:"command_id"`
	Owner        string `json:"owner"`
	Denomination string `json:"denomination"`
	Amount       uint64 `json:"amount"`
}

// ParseCommand decodes raw.Data according to raw.Kind. Every error wraps
// ErrMalformedCommand; such messages can never succeed on redelivery.
func ParseCommand(raw RawCommand) (Command, error) {
	cmd, err := parseCommand(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedCommand, raw.Kind, err)
	}
	return cmd, nil
}

func parseCommand(raw RawCommand) (Command, error) {
	switch raw.Kind {
	case CommandSettle:
		return parseSettle(raw.Data)
	case CommandDeposit:
		return parseDeposit(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command kind %q", raw.Kind)
	}
}

func parseHeader(commandID, owner string) (uuid.UUID, error) {
	if commandID == "" {
		return uuid.Nil, errors.New("command_id is required")
	}
	id, err := uuid.Parse(owner)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse owner: %w", err)
	}
	return id, nil
}

func parseSettle(data []byte) (*SettleCommand, error) {
	var j settleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	owner, err := parseHeader(j.CommandID, j.Owner)
	if err != nil {
		return nil, err
	}
	if j.OrderID == nil {
		return nil, errors.New("order_id is required")
	}
	if j.ObservedPrice == nil {
		return nil, errors.New("observed_price is required")
	}
	return &SettleCommand{
		CommandID:     j.CommandID,
		Owner:         owner,
		OrderID:       *j.OrderID,
		ObservedPrice: *j.ObservedPrice,
	}, nil
}

func parseDeposit(data []byte) (*DepositCommand, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	owner, err := parseHeader(j.CommandID, j.Owner)
	if err != nil {
		return nil, err
	}
	if j.Denomination == "" {
		return nil, errors.New("denomination is required")
	}
	if j.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	return &DepositCommand{
		CommandID:    j.CommandID,
		Owner:        owner,
		Denomination: j.Denomination,
		Amount:       j.Amount,
	}, nil
}
