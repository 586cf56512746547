// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/btcsuite/btcdeposit/notify"
)

// Assigner gives pending requests a receiving address.
type Assigner struct {
	store         Store
	watcher       chain.Watcher
	notifier      notify.Notifier
	notifyTimeout time.Duration
	metrics       *Metrics
}

// NewAssigner creates an assigner. A non-positive notifyTimeout means
// notify.DefaultTimeout.
func NewAssigner(store Store, watcher chain.Watcher, notifier notify.Notifier,
	notifyTimeout time.Duration, metrics *Metrics) *Assigner {

	if notifyTimeout <= 0 {
		notifyTimeout = notify.DefaultTimeout
	}
	return &Assigner{
		store:         store,
		watcher:       watcher,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		metrics:       metrics,
	}
}

// Assign obtains a fresh address for a pending request, persists it, starts
// watching it and tells the requester where to pay.
//
// Of several concurrent callers for the same request exactly one persists
// its address; the others get ErrStaleRequest and their address is simply
// never used. If watching fails the request stays assigned and is picked up
// again by Reconciler.ResumeAssigned.
func (a *Assigner) Assign(ctx context.Context, req *deposit.Request) error {
	if req.Status != deposit.StatusPending {
		str := fmt.Sprintf("request %d is %v, not pending", req.ID,
			req.Status)
		return deposit.NewError(deposit.ErrStaleRequest, str, nil)
	}

	addr, err := a.watcher.FreshAddress(ctx)
	if err != nil {
		return err
	}

	assigned, err := a.store.AssignAddress(ctx, req.ID,
		addr.EncodeAddress())
	if err != nil {
		return err
	}
	a.metrics.transition(deposit.StatusAssigned)

	log.Infof("Assigned address %v to request %d", addr, req.ID)

	return a.activate(ctx, assigned, addr)
}

// activate watches the address of an assigned request, marks the request
// waiting and sends the notification. Notification failures are logged and
// counted but do not fail the call.
func (a *Assigner) activate(ctx context.Context, req *deposit.Request,
	addr btcutil.Address) error {

	if err := a.watcher.Watch(ctx, addr); err != nil {
		return fmt.Errorf("watch address of request %d: %w", req.ID,
			err)
	}

	if err := a.store.MarkWaiting(ctx, req.ID); err != nil {
		return err
	}
	a.metrics.transition(deposit.StatusWaiting)

	log.Debugf("Request %d is waiting for funds on %v", req.ID, addr)

	a.notify(ctx, req, addr)

	return nil
}

// notify delivers the deposit instruction within the notify timeout.
func (a *Assigner) notify(ctx context.Context, req *deposit.Request,
	addr btcutil.Address) {

	ctx, cancel := context.WithTimeout(ctx, a.notifyTimeout)
	defer cancel()

	err := a.notifier.Notify(ctx, req.NotifyRef, req.Amount,
		addr.EncodeAddress())
	if err != nil {
		a.metrics.notificationFailure()
		log.Warnf("Unable to notify requester of request %d: %v",
			req.ID, err)
	}
}
