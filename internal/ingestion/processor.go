package ingestion

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the subset of the engine commands are applied to.
type Ledger interface {
	SettleOrder(ctx context.Context, owner uuid.UUID, orderID, observedPrice uint64) (core.Outcome, error)
	Deposit(ctx context.Context, owner uuid.UUID, symbol string, amount uint64, reference string) (uint64, error)
}

// Result labels how a command was handled.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
	ResultMalformed Result = "malformed"
	ResultRetry     Result = "retry"
)

// Processor parses, deduplicates and applies inbound commands.
type Processor struct {
	ledger  Ledger
	dedup   *core.IdempotencyChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(ledger Ledger, dedup *core.IdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		ledger:  ledger,
		dedup:   dedup,
		metrics: metrics,
		logger:  logger,
	}
}

// Run handles commands until ctx is cancelled or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle processes one command and acknowledges it according to the result.
func (p *Processor) Handle(ctx context.Context, raw RawCommand) Result {
	start := time.Now()
	result := p.handle(ctx, raw)

	switch result {
	case ResultRetry:
		call(raw.NakFunc)
	case ResultMalformed:
		call(raw.TermFunc)
	default:
		call(raw.AckFunc)
	}

	if p.metrics != nil {
		p.metrics.CommandsProcessed.WithLabelValues(string(raw.Kind), string(result)).Inc()
		p.metrics.OperationDuration.WithLabelValues("command_" + string(raw.Kind)).Observe(time.Since(start).Seconds())
	}
	return result
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (p *Processor) handle(ctx context.Context, raw RawCommand) Result {
	cmd, err := ParseCommand(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		return ResultMalformed
	}

	kind := string(cmd.Kind())
	if p.dedup != nil {
		dup, err := p.dedup.IsDuplicate(ctx, kind, cmd.ID())
		if err != nil {
			p.logger.Warn().Err(err).Str("command_id", cmd.ID()).Msg("dedup lookup failed")
			return ResultRetry
		}
		if dup {
			p.logger.Debug().Str("kind", kind).Str("command_id", cmd.ID()).Msg("duplicate command")
			return ResultDuplicate
		}
	}

	err = p.apply(ctx, cmd)
	result := ResultApplied
	if err != nil {
		switch core.Reason(err) {
		case "transfer_failed", "internal":
			p.logger.Warn().Err(err).Str("kind", kind).Str("command_id", cmd.ID()).Msg("command failed, will retry")
			return ResultRetry
		}
		p.logger.Info().Err(err).Str("kind", kind).Str("command_id", cmd.ID()).Msg("command rejected")
		result = ResultRejected
	}

	// Rejections are deterministic, so they are recorded too.
	if p.dedup != nil {
		if err := p.dedup.MarkProcessed(ctx, kind, cmd.ID()); err != nil {
			p.logger.Error().Err(err).Str("command_id", cmd.ID()).Msg("record processed command")
		}
	}
	return result
}

func (p *Processor) apply(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case *SettleCommand:
		_, err := p.ledger.SettleOrder(ctx, c.Owner, c.OrderID, c.ObservedPrice)
		return err
	case *DepositCommand:
		_, err := p.ledger.Deposit(ctx, c.Owner, c.Denomination, c.Amount, "deposit:"+c.CommandID)
		return err
	default:
		return fmt.Errorf("unhandled command %T: %w", cmd, errors.ErrUnsupported)
	}
}
