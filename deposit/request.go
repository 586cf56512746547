// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package deposit defines the deposit request lifecycle, the ledger entry
// that completes it, and the error kinds shared by the reconciliation engine
// and its collaborators.
package deposit

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

// Request is a single deposit request as stored in the datastore.
type Request struct {
	// ID is the opaque identifier of the request. It is stable for the
	// lifetime of the request.
	ID int64

	// OwnerID identifies the user that owns the request. The ledger
	// destination account is derived from it.
	OwnerID int64

	// Status is the current lifecycle state.
	Status Status

	// Address is the receiving address assigned to the request. It is set
	// exactly once, when the request moves to StatusAssigned.
	Address fn.Option[string]

	// Amount is the amount the user announced, in BTC.
	Amount decimal.Decimal

	// NotifyRef is the recipient reference handed to the notifier.
	NotifyRef string

	// Version is the optimistic concurrency token of the row. The store
	// increments it with every status change.
	Version int64

	// CreatedAt is the time the request was created.
	CreatedAt time.Time

	// UpdatedAt is the time of the last status change.
	UpdatedAt time.Time
}

// String returns a short description of the request for logging.
func (r *Request) String() string {
	addr := r.Address.UnwrapOr("-")
	return fmt.Sprintf("request %d (%v, %s BTC, address %s)", r.ID,
		r.Status, r.Amount.String(), addr)
}

// satoshiExp is the decimal exponent of one satoshi.
const satoshiExp = -8

// AmountToDecimal converts an amount in satoshis into an exact BTC decimal.
func AmountToDecimal(a btcutil.Amount) decimal.Decimal {
	return decimal.New(int64(a), satoshiExp)
}

// DecimalToAmount converts an exact BTC decimal into satoshis. Amounts with
// more than eight fractional digits, negative amounts and amounts above the
// money supply are rejected rather than rounded.
func DecimalToAmount(d decimal.Decimal) (btcutil.Amount, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %v", d)
	}

	sats := d.Shift(-satoshiExp)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, fmt.Errorf("amount %v has sub-satoshi precision", d)
	}
	if sats.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, fmt.Errorf("amount %v exceeds the money supply", d)
	}

	return btcutil.Amount(sats.IntPart()), nil
}
