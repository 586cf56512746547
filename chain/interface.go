// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain observes the blockchain on behalf of the deposit engine. It
// hands out fresh receiving addresses, keeps them watched and reports the
// unspent outputs paying to them.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcdeposit/coinselect"
)

// Watcher is the chain view the reconciliation loop depends on.
type Watcher interface {
	// FreshAddress returns a never before used receiving address.
	FreshAddress(ctx context.Context) (btcutil.Address, error)

	// Watch registers addr so that payments to it are observed. It is
	// idempotent.
	Watch(ctx context.Context, addr btcutil.Address) error

	// CandidateOutputs returns the unspent outputs paying to addr with
	// their confidence information.
	CandidateOutputs(ctx context.Context,
		addr btcutil.Address) ([]coinselect.Candidate, error)
}

// Wallet extends Watcher with the operations of the manual surface.
type Wallet interface {
	Watcher

	// AllCandidateOutputs returns every unspent output of the wallet.
	AllCandidateOutputs(ctx context.Context) ([]coinselect.Candidate,
		error)

	// Send pays amount to addr from the wallet and returns the hash of
	// the broadcast transaction.
	Send(ctx context.Context, addr btcutil.Address,
		amount btcutil.Amount) (*chainhash.Hash, error)
}
