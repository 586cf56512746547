// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package claim provides advisory per-request claims so that concurrent
// workers, in one process or across several, do not duplicate the chain
// queries of a request.
//
// Claims are an optimization only. Correctness rests on the status
// compare-and-set and the unique ledger constraint of the store, so a lost or
// expired claim can at worst cause redundant work.
package claim

import (
	"context"
	"sync"
)

// Release gives a claim back. It is safe to call more than once.
type Release func()

// Claimer hands out claims on deposit requests.
type Claimer interface {
	// TryClaim attempts to claim the request without blocking. It returns
	// false if somebody else holds the claim.
	TryClaim(ctx context.Context, requestID int64) (Release, bool, error)
}

// Local is an in-process Claimer.
type Local struct {
	mu      sync.Mutex
	claimed map[int64]struct{}
}

// A compile-time assertion to ensure Local satisfies the Claimer interface.
var _ Claimer = (*Local)(nil)

// NewLocal returns an empty in-process claimer.
func NewLocal() *Local {
	return &Local{
		claimed: make(map[int64]struct{}),
	}
}

// TryClaim claims the request if no other worker of this process holds it.
func (l *Local) TryClaim(_ context.Context, requestID int64) (Release, bool,
	error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.claimed[requestID]; ok {
		return nil, false, nil
	}
	l.claimed[requestID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.claimed, requestID)
			l.mu.Unlock()
		})
	}

	return release, true, nil
}
