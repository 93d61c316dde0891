package persistence

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ core.AccountStore = (*PostgresStore)(nil)

// PostgresStore keeps accounts in margin.accounts and orders in margin.orders.
// Update locks the account row with SELECT ... FOR UPDATE for the lifetime of
// the transaction. uint64 values travel as NUMERIC text because database/sql
// rejects uint64 arguments with the high bit set.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func nullNumeric(p *uint64) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: numeric(*p), Valid: true}
}

func parseNumeric(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseNullNumeric(ns sql.NullString) (*uint64, error) {
	if !ns.Valid {
		return nil, nil
	}
	v, err := parseNumeric(ns.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	acct := state.NewAccount(owner)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO margin.accounts (owner, collateral_a, collateral_b, next_order_id)
		VALUES ($1, 0, 0, $2::numeric)`,
		owner.String(), numeric(acct.NextOrderID),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountExists)
	}
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) load(ctx context.Context, q queryer, owner uuid.UUID, forUpdate bool) (*state.Account, error) {
	query := `SELECT collateral_a, collateral_b, next_order_id FROM margin.accounts WHERE owner = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var a, b, next string
	err := q.QueryRowContext(ctx, query, owner.String()).Scan(&a, &b, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", owner, state.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}

	acct := state.NewAccount(owner)
	if acct.Collateral, err = parseBalances(a, b); err != nil {
		return nil, err
	}
	if acct.NextOrderID, err = parseNumeric(next); err != nil {
		return nil, fmt.Errorf("parse next_order_id: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, asset, position, order_type, trigger_price, amount, leverage,
		       margin_type, stop_loss, take_profit, expires_at, margin_locked, settled
		FROM margin.orders
		WHERE owner = $1
		ORDER BY order_id`,
		owner.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		acct.Orders = append(acct.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return acct, nil
}

func parseBalances(a, b string) (ledger.Balances, error) {
	var bal ledger.Balances
	var err error
	if bal.A, err = parseNumeric(a); err != nil {
		return bal, fmt.Errorf("parse collateral_a: %w", err)
	}
	if bal.B, err = parseNumeric(b); err != nil {
		return bal, fmt.Errorf("parse collateral_b: %w", err)
	}
	return bal, nil
}

func scanOrder(rows *sql.Rows) (state.Order, error) {
	var (
		o                               state.Order
		id, amount, leverage, margin    string
		position, orderType, marginType string
		trigger, stopLoss, takeProfit   sql.NullString
		expiresAt                       sql.NullTime
	)
	if err := rows.Scan(&id, &o.Asset, &position, &orderType, &trigger, &amount, &leverage,
		&marginType, &stopLoss, &takeProfit, &expiresAt, &margin, &o.Settled); err != nil {
		return o, fmt.Errorf("scan order: %w", err)
	}

	var err error
	for _, f := range []struct {
		dst *uint64
		src string
	}{{&o.ID, id}, {&o.Amount, amount}, {&o.Leverage, leverage}, {&o.MarginLocked, margin}} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return o, fmt.Errorf("parse order column: %w", err)
		}
	}
	for _, f := range []struct {
		dst **uint64
		src sql.NullString
	}{{&o.TriggerPrice, trigger}, {&o.StopLoss, stopLoss}, {&o.TakeProfit, takeProfit}} {
		if *f.dst, err = parseNullNumeric(f.src); err != nil {
			return o, fmt.Errorf("parse order column: %w", err)
		}
	}

	if o.Position, err = state.ParsePosition(position); err != nil {
		return o, err
	}
	if o.Type, err = state.ParseOrderType(orderType); err != nil {
		return o, err
	}
	if o.MarginType, err = state.ParseMarginType(marginType); err != nil {
		return o, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		o.ExpiresAt = &t
	}
	return o, nil
}

func (s *PostgresStore) Get(ctx context.Context, owner uuid.UUID) (*state.Account, error) {
	return s.load(ctx, s.db, owner, false)
}

func (s *PostgresStore) Update(ctx context.Context, owner uuid.UUID, fn func(*state.Account) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	before, err := s.load(ctx, tx, owner, true)
	if err != nil {
		return err
	}
	after := before.Clone()
	if err := fn(after); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE margin.accounts
		SET collateral_a = $2::numeric, collateral_b = $3::numeric, next_order_id = $4::numeric, updated_at = NOW()
		WHERE owner = $1`,
		owner.String(), numeric(after.Collateral.A), numeric(after.Collateral.B), numeric(after.NextOrderID),
	); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	// Orders are append-only; only Settled can change on an existing order.
	for i, o := range after.Orders {
		if i < len(before.Orders) {
			if before.Orders[i].Settled == o.Settled {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE margin.orders SET settled = $3, settled_at = NOW() WHERE owner = $1 AND order_id = $2::numeric`,
				owner.String(), numeric(o.ID), o.Settled,
			); err != nil {
				return fmt.Errorf("update order %d: %w", o.ID, err)
			}
			continue
		}
		if err := insertOrder(ctx, tx, owner, o); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, owner uuid.UUID, o state.Order) error {
	var expiresAt sql.NullTime
	if o.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: o.ExpiresAt.UTC(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO margin.orders (owner, order_id, asset, position, order_type, trigger_price, amount, leverage,
		                           margin_type, stop_loss, take_profit, expires_at, margin_locked, settled, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric,
		        $9, $10::numeric, $11::numeric, $12, $13::numeric, $14, $15)`,
		owner.String(), numeric(o.ID), o.Asset, o.Position.String(), o.Type.String(), nullNumeric(o.TriggerPrice),
		numeric(o.Amount), numeric(o.Leverage), o.MarginType.String(), nullNumeric(o.StopLoss),
		nullNumeric(o.TakeProfit), expiresAt, numeric(o.MarginLocked), o.Settled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order %d: %w", o.ID, err)
	}
	return nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
