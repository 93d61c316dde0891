package server

import (
	"MarginLedger/internal/core"
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LedgerServer is the marginledger.v1.Ledger service.
type LedgerServer interface {
	OpenAccount(context.Context, *OpenAccountRequest) (*AccountView, error)
	GetAccount(context.Context, *GetAccountRequest) (*AccountView, error)
	Deposit(context.Context, *CollateralRequest) (*CollateralResponse, error)
	Withdraw(context.Context, *CollateralRequest) (*CollateralResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	SettleOrder(context.Context, *SettleOrderRequest) (*SettleOrderResponse, error)
}

var _ LedgerServer = (*LedgerService)(nil)

// LedgerService adapts the engine to the wire API and maps errors to gRPC
// status codes.
type LedgerService struct {
	engine *core.Engine
}

func NewLedgerService(engine *core.Engine) *LedgerService {
	return &LedgerService{engine: engine}
}

func parseOwner(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}
	return id, nil
}

func (s *LedgerService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*AccountView, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	acct, err := s.engine.OpenAccount(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return newAccountView(acct, s.engine.Config().Denominations), nil
}

func (s *LedgerService) GetAccount(ctx context.Context, req *GetAccountRequest) (*AccountView, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	acct, err := s.engine.Account(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return newAccountView(acct, s.engine.Config().Denominations), nil
}

func (s *LedgerService) Deposit(ctx context.Context, req *CollateralRequest) (*CollateralResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	ref := reference(req.Reference)
	bal, err := s.engine.Deposit(ctx, owner, req.Denomination, req.Amount, ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.collateralResponse(req.Denomination, bal, ref), nil
}

func (s *LedgerService) Withdraw(ctx context.Context, req *CollateralRequest) (*CollateralResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	ref := reference(req.Reference)
	bal, err := s.engine.Withdraw(ctx, owner, req.Denomination, req.Amount, ref)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.collateralResponse(req.Denomination, bal, ref), nil
}

// reference returns the caller's transfer reference, or a fresh one. The
// reference is echoed back so a client can retry without moving value twice.
func reference(ref string) string {
	if ref != "" {
		return ref
	}
	return "api:" + uuid.NewString()
}

func (s *LedgerService) collateralResponse(symbol string, units uint64, ref string) *CollateralResponse {
	denoms := s.engine.Config().Denominations
	slot, _ := denoms.Resolve(symbol)
	return &CollateralResponse{Balance: newAmount(denoms.Get(slot), units), Reference: ref}
}

func (s *LedgerService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Asset == "":
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	case req.Position == nil:
		return nil, status.Error(codes.InvalidArgument, "position is required")
	case req.OrderType == nil:
		return nil, status.Error(codes.InvalidArgument, "order_type is required")
	case req.MarginType == nil:
		return nil, status.Error(codes.InvalidArgument, "margin_type is required")
	}
	id, err := s.engine.PlaceOrder(ctx, core.PlaceOrderRequest{
		Owner:        owner,
		Asset:        req.Asset,
		Position:     *req.Position,
		Type:         *req.OrderType,
		TriggerPrice: req.TriggerPrice,
		Amount:       req.Amount,
		Leverage:     req.Leverage,
		MarginType:   *req.MarginType,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderResponse{OrderID: id}, nil
}

func (s *LedgerService) SettleOrder(ctx context.Context, req *SettleOrderRequest) (*SettleOrderResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	if req.ObservedPrice == nil {
		return nil, status.Error(codes.InvalidArgument, "observed_price is required")
	}
	outcome, err := s.engine.SettleOrder(ctx, owner, req.OrderID, *req.ObservedPrice)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettleOrderResponse{OrderID: req.OrderID, Outcome: outcome.String()}, nil
}

// toStatus maps ledger errors to gRPC status codes.
func toStatus(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	var code codes.Code
	switch core.Reason(err) {
	case "invalid_argument", "overflow":
		code = codes.InvalidArgument
	case "insufficient_collateral", "already_settled":
		code = codes.FailedPrecondition
	case "order_not_found", "account_not_found":
		code = codes.NotFound
	case "account_exists":
		code = codes.AlreadyExists
	case "transfer_failed":
		code = codes.Unavailable
	case "reference_conflict":
		code = codes.Aborted
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
