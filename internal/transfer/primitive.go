// Package transfer defines the token-custody primitive the ledger settles
// through. The ledger never moves value itself; it asks a Primitive to move N
// units between two token accounts under a given signer and trusts the result.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnknownAccount    = errors.New("unknown token account")
	ErrUnauthorized      = errors.New("signer is not the authority of the source account")
	ErrInsufficientFunds = errors.New("insufficient funds in source account")
	ErrDenomination      = errors.New("denomination mismatch")
	ErrReferenceConflict = errors.New("reference already used by a different transfer")
)

// Address identifies a token account, e.g. "user:<uuid>:USDT" or "pool:dex:USDT".
type Address string

// Signer identifies the principal authorizing a transfer, e.g. "user:<uuid>" or "pool:dex".
type Signer string

// UserAddress is the token account of owner in the given denomination.
func UserAddress(owner uuid.UUID, symbol string) Address {
	return Address(fmt.Sprintf("user:%s:%s", owner.String(), strings.ToUpper(symbol)))
}

// PoolAddress is the counterparty pool's token account in the given denomination.
func PoolAddress(pool, symbol string) Address {
	return Address(fmt.Sprintf("pool:%s:%s", pool, strings.ToUpper(symbol)))
}

// UserSigner is the signer controlling owner's token accounts.
func UserSigner(owner uuid.UUID) Signer {
	return Signer("user:" + owner.String())
}

// PoolSigner is the signer controlling the pool's token accounts.
func PoolSigner(pool string) Signer {
	return Signer("pool:" + pool)
}

// Request moves Amount units of Denomination from From to To, authorized by Signer.
// A non-empty Reference makes the transfer idempotent: a second identical request
// with the same reference succeeds without moving value again, and a different
// request reusing it fails with ErrReferenceConflict.
type Request struct {
	From         Address
	To           Address
	Signer       Signer
	Denomination string
	Amount       uint64
	Reference    string
}

func (r Request) String() string {
	return fmt.Sprintf("%s -> %s %d %s (signer=%s)", r.From, r.To, r.Amount, r.Denomination, r.Signer)
}

// sameTransfer reports whether a and b move the same value between the same
// accounts under the same signer.
func sameTransfer(a, b Request) bool {
	return a.From == b.From && a.To == b.To && a.Signer == b.Signer &&
		strings.EqualFold(a.Denomination, b.Denomination) && a.Amount == b.Amount
}

// Primitive is atomic: when Transfer returns an error no value has moved.
type Primitive interface {
	Transfer(ctx context.Context, req Request) error
}
