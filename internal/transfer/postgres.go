package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PostgresPrimitive executes transfers against custody.token_accounts in a
// single transaction. Both rows are locked in address order so concurrent
// transfers between the same pair cannot deadlock.
//
// The engine calls Transfer while a store transaction holds its own
// connection, so db must be a separate pool from the one backing
// persistence.PostgresStore.
type PostgresPrimitive struct {
	db *sql.DB
}

func NewPostgresPrimitive(db *sql.DB) *PostgresPrimitive {
	return &PostgresPrimitive{db: db}
}

type lockedRow struct {
	denomination string
	authority    string
	balance      uint64
}

func (p *PostgresPrimitive) Transfer(ctx context.Context, req Request) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback()

	// Recording the transfer first makes a replayed reference a no-op.
	reference := sql.NullString{String: req.Reference, Valid: req.Reference != ""}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO custody.transfers (transfer_id, reference, from_address, to_address, signer, denomination, amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
		 ON CONFLICT (reference) DO NOTHING`,
		uuid.New().String(), reference, string(req.From), string(req.To), string(req.Signer),
		strings.ToUpper(req.Denomination), strconv.FormatUint(req.Amount, 10),
	)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return p.checkReplay(ctx, tx, req)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT address, denomination, authority, balance
		FROM custody.token_accounts
		WHERE address IN ($1, $2)
		ORDER BY address
		FOR UPDATE`,
		string(req.From), string(req.To),
	)
	if err != nil {
		return fmt.Errorf("lock token accounts: %w", err)
	}

	locked := make(map[Address]lockedRow, 2)
	for rows.Next() {
		var addr, balance string
		var row lockedRow
		if err := rows.Scan(&addr, &row.denomination, &row.authority, &balance); err != nil {
			rows.Close()
			return fmt.Errorf("scan token account: %w", err)
		}
		row.balance, err = strconv.ParseUint(balance, 10, 64)
		if err != nil {
			rows.Close()
			return fmt.Errorf("parse balance of %s: %w", addr, err)
		}
		locked[Address(addr)] = row
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate token accounts: %w", err)
	}

	from, ok := locked[req.From]
	if !ok {
		return fmt.Errorf("%s: %w", req.From, ErrUnknownAccount)
	}
	to, ok := locked[req.To]
	if !ok {
		return fmt.Errorf("%s: %w", req.To, ErrUnknownAccount)
	}
	denom := strings.ToUpper(req.Denomination)
	if from.denomination != denom || to.denomination != denom {
		return fmt.Errorf("%s: %w", req, ErrDenomination)
	}
	if Signer(from.authority) != req.Signer {
		return fmt.Errorf("%s: %w", req, ErrUnauthorized)
	}
	if from.balance < req.Amount {
		return fmt.Errorf("%s has %d: %w", req.From, from.balance, ErrInsufficientFunds)
	}

	amount := strconv.FormatUint(req.Amount, 10)
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody.token_accounts SET balance = balance - $2::numeric WHERE address = $1`,
		string(req.From), amount,
	); err != nil {
		return fmt.Errorf("debit %s: %w", req.From, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody.token_accounts SET balance = balance + $2::numeric WHERE address = $1`,
		string(req.To), amount,
	); err != nil {
		return fmt.Errorf("credit %s: %w", req.To, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

// checkReplay compares a replayed reference against the recorded transfer.
func (p *PostgresPrimitive) checkReplay(ctx context.Context, tx *sql.Tx, req Request) error {
	var (
		prev   Request
		amount string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT from_address, to_address, signer, denomination, amount::text
		FROM custody.transfers WHERE reference = $1`, req.Reference,
	).Scan(&prev.From, &prev.To, &prev.Signer, &prev.Denomination, &amount)
	if err != nil {
		return fmt.Errorf("load transfer %s: %w", req.Reference, err)
	}
	if prev.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return fmt.Errorf("parse amount of %s: %w", req.Reference, err)
	}
	if !sameTransfer(prev, req) {
		return fmt.Errorf("%s: %w (recorded %s)", req.Reference, ErrReferenceConflict, prev)
	}
	return nil
}

// OpenAccount upserts a token account. Used by provisioning tooling and tests.
func (p *PostgresPrimitive) OpenAccount(ctx context.Context, addr Address, authority Signer, denomination string, balance uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO custody.token_accounts (address, denomination, authority, balance)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (address) DO UPDATE
		SET denomination = EXCLUDED.denomination, authority = EXCLUDED.authority, balance = EXCLUDED.balance`,
		string(addr), strings.ToUpper(denomination), string(authority), strconv.FormatUint(balance, 10),
	)
	if err != nil {
		return fmt.Errorf("open token account %s: %w", addr, err)
	}
	return nil
}
