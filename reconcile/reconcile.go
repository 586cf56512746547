// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
)

// Reconciler evaluates the addresses of in-flight requests against the
// current chain state.
type Reconciler struct {
	watcher     chain.Watcher
	policy      coinselect.Policy
	chainParams *chaincfg.Params
	assigner    *Assigner
	poster      *Poster
}

// NewReconciler creates a reconciler. Resumed requests are activated through
// assigner and funded requests are credited through poster.
func NewReconciler(watcher chain.Watcher, policy coinselect.Policy,
	chainParams *chaincfg.Params, assigner *Assigner,
	poster *Poster) *Reconciler {

	return &Reconciler{
		watcher:     watcher,
		policy:      policy,
		chainParams: chainParams,
		assigner:    assigner,
		poster:      poster,
	}
}

// address decodes the persisted address of a request.
func (r *Reconciler) address(req *deposit.Request) (btcutil.Address, error) {
	if req.Address.IsNone() {
		return nil, fmt.Errorf("request %d has no address", req.ID)
	}

	addr, err := btcutil.DecodeAddress(req.Address.UnwrapOr(""),
		r.chainParams)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", req.ID, err)
	}
	return addr, nil
}

// ResumeAssigned finishes the activation of a request whose address was
// persisted but never watched, typically because the watcher was down.
func (r *Reconciler) ResumeAssigned(ctx context.Context,
	req *deposit.Request) error {

	if req.Status != deposit.StatusAssigned {
		str := fmt.Sprintf("request %d is %v, not assigned", req.ID,
			req.Status)
		return deposit.NewError(deposit.ErrStaleRequest, str, nil)
	}

	addr, err := r.address(req)
	if err != nil {
		return err
	}

	log.Debugf("Resuming activation of request %d", req.ID)

	return r.assigner.activate(ctx, req, addr)
}

// Reconcile credits a waiting request once its address holds eligible funds.
// The whole eligible balance is credited, which may differ from the
// requested amount. Without eligible funds the request is left waiting.
func (r *Reconciler) Reconcile(ctx context.Context,
	req *deposit.Request) error {

	if req.Status != deposit.StatusWaiting {
		str := fmt.Sprintf("request %d is %v, not waiting", req.ID,
			req.Status)
		return deposit.NewError(deposit.ErrStaleRequest, str, nil)
	}

	addr, err := r.address(req)
	if err != nil {
		return err
	}

	cands, err := r.watcher.CandidateOutputs(ctx, addr)
	if err != nil {
		return err
	}

	sel := coinselect.Select(r.policy, coinselect.Unbounded, cands)

	log.Debugf("Balance for %d is %v", req.ID, sel.Total)

	if sel.Total == 0 {
		return nil
	}

	return r.poster.Post(ctx, req, sel.Total)
}

// Poster writes the ledger entry of a funded request.
type Poster struct {
	store   Store
	metrics *Metrics

	// now returns the current time. Tests replace it.
	now func() time.Time
}

// NewPoster creates a poster.
func NewPoster(store Store, metrics *Metrics) *Poster {
	return &Poster{
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// Post credits total to the owner of req and completes the request. Posting
// a request that was already credited is a no-op: the store rejects the
// second entry and Post returns nil.
func (p *Poster) Post(ctx context.Context, req *deposit.Request,
	total btcutil.Amount) error {

	entry := deposit.NewLedgerEntry(req, deposit.AmountToDecimal(total),
		p.now())

	err := p.store.CompleteWithCredit(ctx, entry)
	switch {
	case err == nil:

	// Waiting only ever moves to completed, so a stale waiting request
	// was credited by somebody else.
	case deposit.IsError(err, deposit.ErrDuplicateCredit),
		deposit.IsError(err, deposit.ErrStaleRequest):

		log.Infof("Request %d was already credited", req.ID)
		return nil

	default:
		return err
	}

	p.metrics.transition(deposit.StatusCompleted)
	p.metrics.credit(entry)

	log.Infof("Credited %v BTC to %s for request %d (entry %v)",
		entry.Amount, entry.Destination, req.ID, entry.ID)

	return nil
}
