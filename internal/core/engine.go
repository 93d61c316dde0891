package core

import (
	"MarginLedger/internal/event"
	"MarginLedger/internal/ledger"
	fpmath "MarginLedger/internal/math"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/state"
	"MarginLedger/internal/transfer"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine places and settles leveraged orders. Each operation runs inside a
// single AccountStore.Update, so it either commits completely or leaves the
// account exactly as it was. Operations on one owner are serialized from
// commit through emission, so that owner's events are sequenced in commit
// order.
type Engine struct {
	cfg       Config
	store     AccountStore
	transfers transfer.Primitive
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	onOpen    func(ctx context.Context, owner uuid.UUID) error

	owners sync.Map // uuid.UUID -> *sync.Mutex

	// Outbound events. Sends never block; a full channel drops the event.
	emitMu   sync.Mutex
	sequence int64
	hasher   *StateHasher
	events   chan<- event.Envelope
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEvents sets the channel committed-operation events are sent to.
func WithEvents(ch chan<- event.Envelope) Option {
	return func(e *Engine) { e.events = ch }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger replaces the default no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAccountHook runs fn after an account record is created, e.g. to
// provision custody accounts in development setups.
func WithAccountHook(fn func(ctx context.Context, owner uuid.UUID) error) Option {
	return func(e *Engine) { e.onOpen = fn }
}

// WithStartSequence continues the event sequence and hash chain after a
// restart. next is the sequence the next event gets, tip the hash of the last
// event written.
func WithStartSequence(next int64, tip [32]byte) Option {
	return func(e *Engine) {
		e.sequence = next
		e.hasher = NewStateHasherFrom(tip)
	}
}

func NewEngine(cfg Config, store AccountStore, transfers transfer.Primitive, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		store:     store,
		transfers: transfers,
		logger:    zerolog.Nop(),
		now:       time.Now,
		hasher:    NewStateHasher(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PlaceOrderRequest carries the parameters of a new order.
type PlaceOrderRequest struct {
	Owner        uuid.UUID
	Asset        string
	Position     state.Position
	Type         state.OrderType
	TriggerPrice *uint64
	Amount       uint64
	Leverage     uint64
	MarginType   state.MarginType
	StopLoss     *uint64
	TakeProfit   *uint64
	ExpiresAt    *time.Time
}

func (r *PlaceOrderRequest) validate() error {
	if r.Amount == 0 {
		return ErrInvalidAmount
	}
	if r.Leverage < 1 {
		return ErrInvalidLeverage
	}
	if !r.Position.Valid() {
		return fmt.Errorf("position %d: %w", r.Position, ErrInvalidOrder)
	}
	if !r.MarginType.Valid() {
		return fmt.Errorf("margin type %d: %w", r.MarginType, ErrInvalidOrder)
	}
	switch r.Type {
	case state.OrderTypeMarket:
		r.TriggerPrice = nil
	case state.OrderTypeLimit:
		if r.TriggerPrice == nil {
			return ErrMissingTriggerPrice
		}
	default:
		return fmt.Errorf("order type %d: %w", r.Type, ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder reserves amount * leverage from the owner's collateral and
// appends a new order. It returns the new order id.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (uint64, error) {
	start := time.Now()

	if err := req.validate(); err != nil {
		return 0, e.fail("place_order", req.Owner, err)
	}

	margin, err := fpmath.MulU64(req.Amount, req.Leverage)
	if err != nil {
		return 0, e.fail("place_order", req.Owner, fmt.Errorf("margin for order: %w", err))
	}

	defer e.lockOwner(req.Owner)()

	var (
		orderID uint64
		drawn   ledger.Locked
	)
	err = e.store.Update(ctx, req.Owner, func(acct *state.Account) error {
		available, err := acct.Collateral.Available()
		if err != nil {
			return err
		}

		// Eligibility gate. Reserve re-checks the leveraged amount on its own.
		threshold := req.Amount
		if e.cfg.Eligibility == EligibilityLeveraged {
			threshold = margin
		}
		if available < threshold {
			return fmt.Errorf("eligibility (%s): available %d < %d: %w",
				e.cfg.Eligibility, available, threshold, ledger.ErrInsufficientCollateral)
		}

		drawn, err = acct.Collateral.Reserve(margin)
		if err != nil {
			return err
		}

		orderID = acct.AppendOrder(state.Order{
			Asset:        req.Asset,
			Position:     req.Position,
			Type:         req.Type,
			TriggerPrice: req.TriggerPrice,
			Amount:       req.Amount,
			Leverage:     req.Leverage,
			MarginType:   req.MarginType,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			ExpiresAt:    req.ExpiresAt,
			MarginLocked: margin,
		})

		return acct.Validate()
	})
	if err != nil {
		return 0, e.fail("place_order", req.Owner, err)
	}

	e.logger.Debug().
		Str("owner", req.Owner.String()).
		Uint64("order_id", orderID).
		Str("asset", req.Asset).
		Stringer("position", req.Position).
		Stringer("order_type", req.Type).
		Uint64("margin_locked", margin).
		Uint64("from_a", drawn.FromA).
		Uint64("from_b", drawn.FromB).
		Msg("order placed")

	if e.metrics != nil {
		e.metrics.OrdersPlaced.WithLabelValues(req.Position.String(), req.Type.String()).Inc()
		e.metrics.MarginLocked.Add(float64(margin))
		e.metrics.OperationDuration.WithLabelValues("place_order").Observe(time.Since(start).Seconds())
	}

	e.emit(req.Owner, &event.OrderPlaced{
		OrderID:      orderID,
		Asset:        req.Asset,
		Position:     req.Position.String(),
		OrderType:    req.Type.String(),
		TriggerPrice: req.TriggerPrice,
		Amount:       req.Amount,
		Leverage:     req.Leverage,
		MarginType:   req.MarginType.String(),
		MarginLocked: margin,
		Drawn:        drawn,
	})

	return orderID, nil
}

// SettleOrder resolves an open order at observedPrice. On a win the pool pays
// the locked margin to the owner; on a loss the owner pays it to the pool. The
// order is marked settled only after the transfer succeeds.
func (e *Engine) SettleOrder(ctx context.Context, owner uuid.UUID, orderID, observedPrice uint64) (Outcome, error) {
	start := time.Now()
	defer e.lockOwner(owner)()

	var (
		outcome Outcome
		req     transfer.Request
	)
	err := e.store.Update(ctx, owner, func(acct *state.Account) error {
		o := acct.FindOrder(orderID)
		if o == nil {
			return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
		}
		if o.Settled {
			return fmt.Errorf("order %d: %w", orderID, ErrAlreadySettled)
		}

		outcome = EvaluateFill(*o, observedPrice)
		req = e.settlementTransfer(owner, orderID, outcome, o.MarginLocked)

		if err := e.transfers.Transfer(ctx, req); err != nil {
			return fmt.Errorf("settle order %d: %w: %w", orderID, ErrTransferFailed, err)
		}

		o.Settled = true
		return nil
	})
	if err != nil {
		return 0, e.fail("settle_order", owner, err)
	}

	e.logger.Info().
		Str("owner", owner.String()).
		Uint64("order_id", orderID).
		Uint64("observed_price", observedPrice).
		Stringer("outcome", outcome).
		Uint64("amount", req.Amount).
		Msg("order settled")

	if e.metrics != nil {
		e.metrics.OrdersSettled.WithLabelValues(outcome.String()).Inc()
		e.metrics.SettledVolume.WithLabelValues(outcome.String()).Add(float64(req.Amount))
		e.metrics.OperationDuration.WithLabelValues("settle_order").Observe(time.Since(start).Seconds())
	}

	e.emit(owner, &event.OrderSettled{
		OrderID:       orderID,
		ObservedPrice: observedPrice,
		Outcome:       outcome.String(),
		Amount:        req.Amount,
		Denomination:  req.Denomination,
		From:          string(req.From),
		To:            string(req.To),
	})

	return outcome, nil
}

func (e *Engine) settlementTransfer(owner uuid.UUID, orderID uint64, outcome Outcome, amount uint64) transfer.Request {
	symbol := e.cfg.Denominations.Get(e.cfg.SettlementSlot).Symbol
	user := transfer.UserAddress(owner, symbol)
	pool := transfer.PoolAddress(e.cfg.Pool, symbol)

	req := transfer.Request{
		Denomination: symbol,
		Amount:       amount,
		Reference:    fmt.Sprintf("settle:%s:%d", owner, orderID),
	}
	switch outcome {
	case OutcomeWin:
		req.From, req.To, req.Signer = pool, user, transfer.PoolSigner(e.cfg.Pool)
	case OutcomeLoss:
		req.From, req.To, req.Signer = user, pool, transfer.UserSigner(owner)
	}
	return req
}

// Deposit moves amount from the owner's token account into the pool and
// credits the matching collateral balance. reference, when set, makes the
// custody transfer idempotent.
func (e *Engine) Deposit(ctx context.Context, owner uuid.UUID, symbol string, amount uint64, reference string) (uint64, error) {
	start := time.Now()

	slot, denom, err := e.resolve(symbol, amount)
	if err != nil {
		return 0, e.fail("deposit", owner, err)
	}
	defer e.lockOwner(owner)()

	var balanceAfter uint64
	err = e.store.Update(ctx, owner, func(acct *state.Account) error {
		// Credit first so an overflow is caught before any value moves.
		if err := acct.Collateral.Credit(slot, amount); err != nil {
			return err
		}
		balanceAfter = acct.Collateral.Balance(slot)

		req := transfer.Request{
			From:         transfer.UserAddress(owner, denom.Symbol),
			To:           transfer.PoolAddress(e.cfg.Pool, denom.Symbol),
			Signer:       transfer.UserSigner(owner),
			Denomination: denom.Symbol,
			Amount:       amount,
			Reference:    reference,
		}
		if err := e.transfers.Transfer(ctx, req); err != nil {
			return fmt.Errorf("deposit: %w: %w", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return 0, e.fail("deposit", owner, err)
	}

	e.logger.Info().
		Str("owner", owner.String()).
		Str("denomination", denom.Symbol).
		Uint64("amount", amount).
		Msg("collateral deposited")

	if e.metrics != nil {
		e.metrics.CollateralMoved.WithLabelValues("deposit", denom.Symbol).Add(float64(amount))
		e.metrics.OperationDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
	}

	e.emit(owner, &event.CollateralDeposited{
		Denomination: denom.Symbol,
		Amount:       amount,
		BalanceAfter: balanceAfter,
	})
	return balanceAfter, nil
}

// Withdraw debits the named collateral balance and pays it out of the pool.
func (e *Engine) Withdraw(ctx context.Context, owner uuid.UUID, symbol string, amount uint64, reference string) (uint64, error) {
	start := time.Now()

	slot, denom, err := e.resolve(symbol, amount)
	if err != nil {
		return 0, e.fail("withdraw", owner, err)
	}
	defer e.lockOwner(owner)()

	var balanceAfter uint64
	err = e.store.Update(ctx, owner, func(acct *state.Account) error {
		if err := acct.Collateral.Debit(slot, amount); err != nil {
			return err
		}
		balanceAfter = acct.Collateral.Balance(slot)

		req := transfer.Request{
			From:         transfer.PoolAddress(e.cfg.Pool, denom.Symbol),
			To:           transfer.UserAddress(owner, denom.Symbol),
			Signer:       transfer.PoolSigner(e.cfg.Pool),
			Denomination: denom.Symbol,
			Amount:       amount,
			Reference:    reference,
		}
		if err := e.transfers.Transfer(ctx, req); err != nil {
			return fmt.Errorf("withdraw: %w: %w", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return 0, e.fail("withdraw", owner, err)
	}

	e.logger.Info().
		Str("owner", owner.String()).
		Str("denomination", denom.Symbol).
		Uint64("amount", amount).
		Msg("collateral withdrawn")

	if e.metrics != nil {
		e.metrics.CollateralMoved.WithLabelValues("withdraw", denom.Symbol).Add(float64(amount))
		e.metrics.OperationDuration.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())
	}

	e.emit(owner, &event.CollateralWithdrawn{
		Denomination: denom.Symbol,
		Amount:       amount,
		BalanceAfter: balanceAfter,
	})
	return balanceAfter, nil
}

func (e *Engine) resolve(symbol string, amount uint64) (ledger.Slot, ledger.Denomination, error) {
	if amount == 0 {
		return 0, ledger.Denomination{}, ErrInvalidAmount
	}
	slot, ok := e.cfg.Denominations.Resolve(symbol)
	if !ok {
		return 0, ledger.Denomination{}, fmt.Errorf("%q: %w", symbol, ErrUnknownDenomination)
	}
	return slot, e.cfg.Denominations.Get(slot), nil
}

// OpenAccount creates an empty account record for owner.
func (e *Engine) OpenAccount(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	defer e.lockOwner(owner)()
	acct, err := e.store.Create(ctx, owner)
	if err != nil {
		return nil, e.fail("open_account", owner, err)
	}
	if e.onOpen != nil {
		if err := e.onOpen(ctx, owner); err != nil {
			return nil, e.fail("open_account", owner, fmt.Errorf("account hook: %w", err))
		}
	}
	e.logger.Info().Str("owner", owner.String()).Msg("account opened")
	e.emit(owner, &event.AccountOpened{})
	return acct, nil
}

// Account returns a snapshot of the owner's account.
func (e *Engine) Account(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	return e.store.Get(ctx, owner)
}

// lockOwner serializes engine operations on one owner and returns the unlock.
func (e *Engine) lockOwner(owner uuid.UUID) func() {
	v, _ := e.owners.LoadOrStore(owner, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) fail(op string, owner uuid.UUID, err error) error {
	reason := Reason(err)
	if e.metrics != nil {
		e.metrics.OperationsFailed.WithLabelValues(op, reason).Inc()
	}

	ev := e.logger.Debug()
	if reason == "transfer_failed" || reason == "reference_conflict" || reason == "internal" {
		ev = e.logger.Warn()
	}
	ev.Err(err).
		Str("operation", op).
		Str("owner", owner.String()).
		Str("reason", reason).
		Msg("operation rejected")
	return err
}

// emit assigns the next sequence, chains the envelope hash and hands the
// envelope to the events channel without blocking.
func (e *Engine) emit(owner uuid.UUID, payload event.Event) {
	if e.events == nil {
		return
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	env := event.NewEnvelope(e.sequence, owner, e.now(), payload)
	digest, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", env.EventType.String()).Msg("marshal event payload")
		return
	}
	env.PrevHash = event.Digest(e.hasher.GetPrevHash())
	env.Hash = event.Digest(e.hasher.ComputeHash(env.Sequence, digest))
	e.sequence++

	select {
	case e.events <- env:
	default:
		if e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
		e.logger.Warn().Int64("sequence", env.Sequence).Str("event_type", env.EventType.String()).Msg("event channel full, dropped")
	}
}
