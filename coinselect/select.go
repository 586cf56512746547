// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcdeposit/deposit"
)

// Unbounded is the target used to compute the full balance of an address
// rather than to fund a payment. Selection with this target skips sorting.
const Unbounded = btcutil.Amount(btcutil.MaxSatoshi)

// Key is the sort key of a candidate. Candidates are ordered by coin depth
// descending, then value descending, then transaction hash ascending, which
// makes the order total.
type Key struct {
	// CoinDepth is value multiplied by depth. Only building outputs have
	// a depth for this purpose.
	CoinDepth *big.Int

	// Value is the value of the output.
	Value btcutil.Amount

	// Hash is the creating transaction hash read as a big-endian unsigned
	// integer of its display form.
	Hash *big.Int
}

// SortKey extracts the sort key of a candidate.
func SortKey(c *Candidate) Key {
	var depth int64
	if c.Confidence == ConfidenceBuilding {
		depth = int64(c.Depth)
	}

	coinDepth := new(big.Int).Mul(
		big.NewInt(int64(c.Value)), big.NewInt(depth),
	)

	return Key{
		CoinDepth: coinDepth,
		Value:     c.Value,
		Hash:      hashToBig(&c.TxHash),
	}
}

// hashToBig interprets a hash the way it is displayed, most significant byte
// first. chainhash stores the bytes reversed.
func hashToBig(h *chainhash.Hash) *big.Int {
	var buf [chainhash.HashSize]byte
	for i := 0; i < chainhash.HashSize; i++ {
		buf[i] = h[chainhash.HashSize-1-i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if c := k.CoinDepth.Cmp(o.CoinDepth); c != 0 {
		return c > 0
	}
	if k.Value != o.Value {
		return k.Value > o.Value
	}
	return k.Hash.Cmp(o.Hash) < 0
}

// Sort returns a copy of the candidates in selection priority order. The
// input slice is left untouched.
func Sort(candidates []Candidate) []Candidate {
	keys := make([]Key, len(candidates))
	idx := make([]int, len(candidates))
	for i := range candidates {
		keys[i] = SortKey(&candidates[i])
		idx[i] = i
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return keys[idx[i]].Less(keys[idx[j]])
	})

	sorted := make([]Candidate, len(candidates))
	for i, j := range idx {
		sorted[i] = candidates[j]
	}
	return sorted
}

// Selection is the result of a selection.
type Selection struct {
	// Outputs are the selected candidates in the order they were picked.
	Outputs []Candidate

	// Total is the sum of the selected values.
	Total btcutil.Amount
}

// Covers reports whether the selection reaches target.
func (s *Selection) Covers(target btcutil.Amount) bool {
	return s.Total >= target
}

// Select walks the candidates in priority order and accumulates eligible
// outputs until target is reached. The total may be lower than target when
// the eligible funds are insufficient; that is not an error here.
//
// When target is Unbounded the candidates are walked in the given order,
// since every eligible output is taken anyway.
func Select(p Policy, target btcutil.Amount,
	candidates []Candidate) Selection {

	ordered := candidates
	if target != Unbounded {
		ordered = Sort(candidates)
	}

	var sel Selection
	for i := range ordered {
		if sel.Total >= target {
			break
		}

		c := &ordered[i]
		if !p.IsEligible(c) {
			continue
		}

		sel.Outputs = append(sel.Outputs, *c)
		sel.Total += c.Value
	}

	return sel
}

// Balance returns the eligible total of the candidates.
func Balance(p Policy, candidates []Candidate) btcutil.Amount {
	sel := Select(p, Unbounded, candidates)
	return sel.Total
}

// Fund selects outputs for a specific payment of target. Unlike Select it
// reports a shortfall as an ErrInsufficientFunds error, alongside the partial
// selection.
func Fund(p Policy, target btcutil.Amount,
	candidates []Candidate) (Selection, error) {

	sel := Select(p, target, candidates)
	if !sel.Covers(target) {
		str := fmt.Sprintf("eligible total %v is below target %v",
			sel.Total, target)
		return sel, deposit.NewError(
			deposit.ErrInsufficientFunds, str, nil,
		)
	}

	return sel, nil
}
