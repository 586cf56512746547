// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect decides which observed outputs count toward a balance
// and picks a deterministic, sufficient subset of them for a target amount.
//
// Everything in this package is a pure function of its arguments and is safe
// for concurrent use.
package coinselect

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ConfidenceType describes what the watcher knows about the transaction that
// created an output.
type ConfidenceType uint8

const (
	// ConfidenceOther covers dead, conflicted or unknown transactions.
	// Outputs of such transactions never count.
	ConfidenceOther ConfidenceType = iota

	// ConfidenceBuilding marks a transaction included in the best chain.
	ConfidenceBuilding

	// ConfidencePending marks a transaction that is only in the mempool.
	ConfidencePending
)

// String returns a human readable name of the confidence type.
func (c ConfidenceType) String() string {
	switch c {
	case ConfidenceBuilding:
		return "building"
	case ConfidencePending:
		return "pending"
	default:
		return "other"
	}
}

// Candidate is a single unspent output observed on an address.
type Candidate struct {
	// Address is the address the output pays to.
	Address string

	// TxHash is the hash of the transaction that created the output.
	TxHash chainhash.Hash

	// Index is the output index within the transaction.
	Index uint32

	// Value is the value of the output.
	Value btcutil.Amount

	// Depth is the number of blocks built on top of, and including, the
	// block that mined the transaction. It is zero when unconfirmed.
	Depth int32

	// Confidence is the confidence type of the creating transaction.
	Confidence ConfidenceType

	// BroadcastPeers is the number of peers the transaction was announced
	// to or seen from.
	BroadcastPeers int32

	// SelfOriginated is true when this system broadcast the transaction.
	SelfOriginated bool

	// Spendable is false once the output has been consumed.
	Spendable bool
}

// String returns the outpoint and value of the candidate.
func (c *Candidate) String() string {
	return fmt.Sprintf("%v:%d (%v, %v, depth %d)", c.TxHash, c.Index,
		c.Value, c.Confidence, c.Depth)
}

const (
	// DefaultMinDepth is the confirmation depth a chain-included output
	// needs before it counts.
	DefaultMinDepth = 4

	// DefaultMinBroadcastPeers is the number of peers a self-originated,
	// unconfirmed transaction must have reached before its outputs count.
	DefaultMinBroadcastPeers = 2
)

// Policy holds the thresholds of the confidence classifier.
type Policy struct {
	// MinDepth is the minimum depth of a building output.
	MinDepth int32

	// MinBroadcastPeers is the minimum number of broadcast peers of a
	// pending, self-originated output.
	MinBroadcastPeers int32
}

// DefaultPolicy is the policy used when nothing else is configured.
var DefaultPolicy = Policy{
	MinDepth:          DefaultMinDepth,
	MinBroadcastPeers: DefaultMinBroadcastPeers,
}

// Validate returns an error if the thresholds make no sense.
func (p Policy) Validate() error {
	if p.MinDepth < 1 {
		return fmt.Errorf("minimum depth must be >= 1, got %d",
			p.MinDepth)
	}
	if p.MinBroadcastPeers < 1 {
		return fmt.Errorf("minimum broadcast peers must be >= 1, got %d",
			p.MinBroadcastPeers)
	}
	return nil
}

// IsEligible reports whether the output may count toward a balance. Only
// unspent outputs qualify, and then either because they are buried deep
// enough in the chain, or because we broadcast them ourselves and they have
// propagated to enough peers.
func (p Policy) IsEligible(c *Candidate) bool {
	if !c.Spendable {
		return false
	}

	switch c.Confidence {
	case ConfidenceBuilding:
		return c.Depth >= p.MinDepth

	case ConfidencePending:
		return c.SelfOriginated && c.BroadcastPeers >= p.MinBroadcastPeers

	default:
		return false
	}
}
