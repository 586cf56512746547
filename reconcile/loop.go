// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package reconcile drives deposit requests through their lifecycle. A
// periodic sweep assigns addresses to pending requests, finishes interrupted
// activations and credits waiting requests whose addresses hold eligible
// funds.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/claim"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/btcsuite/btcdeposit/notify"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSweepInterval is the time between two sweeps.
	DefaultSweepInterval = 10 * time.Second

	// DefaultWorkers is the number of requests evaluated concurrently.
	DefaultWorkers = 8

	// DefaultBatchSize is the maximum number of requests loaded per
	// phase and sweep.
	DefaultBatchSize = 500
)

// Sweep phases, also used as metric labels.
const (
	phaseAssign    = "assign"
	phaseResume    = "resume"
	phaseReconcile = "reconcile"
)

// LoopConfig holds the collaborators of the reconciliation loop.
type LoopConfig struct {
	// Store persists requests and ledger entries.
	Store Store

	// Watcher observes the chain.
	Watcher chain.Watcher

	// Notifier tells requesters where to pay.
	Notifier notify.Notifier

	// Claimer prevents duplicate work across workers. Nil means an
	// in-process claimer.
	Claimer claim.Claimer

	// Policy decides which outputs count.
	Policy coinselect.Policy

	// ChainParams are used to decode persisted addresses.
	ChainParams *chaincfg.Params

	// Workers bounds the number of requests evaluated concurrently.
	Workers int

	// BatchSize bounds the number of requests loaded per phase.
	BatchSize int

	// Ticker paces the sweeps.
	Ticker ticker.Ticker

	// NotifyTimeout bounds each notification.
	NotifyTimeout time.Duration

	// Metrics records sweep statistics. It may be nil.
	Metrics *Metrics
}

// Loop periodically sweeps all unfinished requests.
type Loop struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg LoopConfig

	assigner   *Assigner
	reconciler *Reconciler
	poster     *Poster

	// sweepMtx serializes sweeps started by the ticker and by Sweep.
	sweepMtx sync.Mutex

	quit   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop validates cfg and creates a loop.
func NewLoop(cfg *LoopConfig) (*Loop, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("a store is required")
	case cfg.Watcher == nil:
		return nil, errors.New("a watcher is required")
	case cfg.Notifier == nil:
		return nil, errors.New("a notifier is required")
	case cfg.ChainParams == nil:
		return nil, errors.New("chain parameters are required")
	case cfg.Ticker == nil:
		return nil, errors.New("a ticker is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	c := *cfg
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Claimer == nil {
		c.Claimer = claim.NewLocal()
	}

	assigner := NewAssigner(c.Store, c.Watcher, c.Notifier,
		c.NotifyTimeout, c.Metrics)
	poster := NewPoster(c.Store, c.Metrics)

	return &Loop{
		cfg:      c,
		assigner: assigner,
		poster:   poster,
		reconciler: NewReconciler(
			c.Watcher, c.Policy, c.ChainParams, assigner, poster,
		),
		quit: make(chan struct{}),
	}, nil
}

// Start launches the sweep goroutine.
func (l *Loop) Start() error {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return nil
	}

	log.Infof("Starting reconciliation loop (%d workers, policy %+v)",
		l.cfg.Workers, l.cfg.Policy)

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go l.sweepHandler(ctx)

	return nil
}

// Stop cancels an in-flight sweep and waits for the loop to exit. Store
// transactions of the cancelled sweep either commit or roll back as a whole.
func (l *Loop) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.stopped, 0, 1) {
		return nil
	}

	log.Info("Reconciliation loop shutting down")

	close(l.quit)
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()

	return nil
}

// sweepHandler runs a sweep on every tick until the loop is stopped.
func (l *Loop) sweepHandler(ctx context.Context) {
	defer l.wg.Done()

	l.cfg.Ticker.Resume()
	defer l.cfg.Ticker.Stop()

	for {
		select {
		case <-l.cfg.Ticker.Ticks():
			if err := l.Sweep(ctx); err != nil {
				log.Errorf("Sweep failed: %v", err)
			}

		case <-l.quit:
			return
		}
	}
}

// Sweep runs the assign, resume and reconcile phases once. Failures of
// individual requests are logged and counted but do not stop the sweep. The
// returned error only reports phases that could not load their requests.
func (l *Loop) Sweep(ctx context.Context) error {
	l.sweepMtx.Lock()
	defer l.sweepMtx.Unlock()

	start := time.Now()

	var errs []error
	phases := []struct {
		name    string
		status  deposit.Status
		process func(context.Context, *deposit.Request) error
	}{
		{phaseAssign, deposit.StatusPending, l.assigner.Assign},
		{phaseResume, deposit.StatusAssigned, l.reconciler.ResumeAssigned},
		{phaseReconcile, deposit.StatusWaiting, l.reconciler.Reconcile},
	}
	for _, phase := range phases {
		if ctx.Err() != nil {
			break
		}

		err := l.runPhase(ctx, phase.name, phase.status, phase.process)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	l.cfg.Metrics.observeSweep(time.Since(start))
	if l.cfg.Metrics != nil {
		counts, err := l.cfg.Store.CountByStatus(ctx)
		if err != nil {
			log.Warnf("Unable to count requests: %v", err)
		} else {
			l.cfg.Metrics.setCounts(counts)
		}
	}

	log.Tracef("Sweep finished in %v", time.Since(start))

	return errors.Join(errs...)
}

// runPhase loads the requests in status and processes them on the bounded
// worker pool.
func (l *Loop) runPhase(ctx context.Context, phase string,
	status deposit.Status,
	process func(context.Context, *deposit.Request) error) error {

	reqs, err := l.cfg.Store.RequestsByStatus(ctx, status, l.cfg.BatchSize)
	if err != nil {
		l.cfg.Metrics.failure(phase)
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	if len(reqs) == 0 {
		return nil
	}

	log.Debugf("Running %s phase over %d requests", phase, len(reqs))
	log.Tracef("Requests of %s phase: %v", phase,
		newLogClosure(func() string {
			return spew.Sdump(reqs)
		}))

	var g errgroup.Group
	g.SetLimit(l.cfg.Workers)
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			l.processRequest(ctx, phase, req, process)
			return nil
		})
	}

	return g.Wait()
}

// processRequest evaluates one request under a claim and classifies the
// outcome.
func (l *Loop) processRequest(ctx context.Context, phase string,
	req *deposit.Request,
	process func(context.Context, *deposit.Request) error) {

	release, ok, err := l.cfg.Claimer.TryClaim(ctx, req.ID)
	switch {
	// Claims are advisory, so an unreachable claimer does not block
	// progress.
	case err != nil:
		log.Warnf("Unable to claim request %d, continuing "+
			"unclaimed: %v", req.ID, err)

	case !ok:
		log.Debugf("Request %d is claimed by another worker", req.ID)
		return

	default:
		defer release()
	}

	err = process(ctx, req)
	switch {
	case err == nil:

	case deposit.IsError(err, deposit.ErrStaleRequest),
		deposit.IsError(err, deposit.ErrDuplicateCredit):

		log.Debugf("Skipping request %d in %s phase: %v", req.ID,
			phase, err)

	case errors.Is(err, context.Canceled):
		log.Debugf("Request %d interrupted by shutdown", req.ID)

	default:
		l.cfg.Metrics.failure(phase)
		log.Errorf("Unable to process request %d in %s phase: %v",
			req.ID, phase, err)
	}
}
