// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/claim"
	"github.com/btcsuite/btcdeposit/notify"
	"github.com/btcsuite/btcdeposit/reconcile"
	"github.com/btcsuite/btcdeposit/rpc/httpapi"
	"github.com/btcsuite/btcdeposit/store"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Work around defer not working after os.Exit.
	if err := depositMain(); err != nil {
		os.Exit(1)
	}
}

// depositMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func depositMain() error {
	// Load configuration and parse command line.  This function also
	// sets the configured log levels.
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	err = logWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logWriter.Close()

	log.Infof("Version %s, network %s", version(), cfg.activeNet.Name)

	interrupt := interruptListener()

	// Everything started below is torn down in reverse order once ctx is
	// cancelled by an interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	db, err := store.Open(ctx, cfg.dialect, cfg.DBDSN)
	if err != nil {
		log.Errorf("Unable to open datastore: %v", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("Unable to close datastore: %v", err)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		log.Errorf("Unable to migrate datastore: %v", err)
		return err
	}

	watcher, err := newWatcher(ctx, cfg)
	if err != nil {
		log.Errorf("Unable to start chain watcher: %v", err)
		return err
	}
	defer watcher.Stop()

	notifier := notify.New(&notify.Config{
		Host:      cfg.NotifyHost,
		Timeout:   cfg.NotifyTimeout,
		TripAfter: cfg.NotifyTripAfter,
	})

	claimer, closeClaimer := newClaimer(ctx, cfg)
	defer closeClaimer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	loop, err := reconcile.NewLoop(&reconcile.LoopConfig{
		Store:         db,
		Watcher:       watcher,
		Notifier:      notifier,
		Claimer:       claimer,
		Policy:        cfg.policy,
		ChainParams:   cfg.activeNet.Params,
		Workers:       cfg.Workers,
		BatchSize:     cfg.BatchSize,
		Ticker:        ticker.New(cfg.SweepInterval),
		NotifyTimeout: cfg.NotifyTimeout,
		Metrics:       reconcile.NewMetrics(registry),
	})
	if err != nil {
		log.Errorf("Unable to create reconciliation loop: %v", err)
		return err
	}
	if err := loop.Start(); err != nil {
		return err
	}
	defer func() {
		if err := loop.Stop(); err != nil {
			log.Errorf("Unable to stop reconciliation loop: %v", err)
		}
	}()

	if !cfg.NoHTTP {
		server := httpapi.NewServer(&httpapi.Config{
			Listen:        cfg.HTTPListen.Value,
			Wallet:        watcher,
			Store:         db,
			Policy:        cfg.policy,
			ChainParams:   cfg.activeNet.Params,
			MaxSend:       cfg.MaxSend.Amount,
			RelayFeePerKb: cfg.RelayFee.Amount,
			Gatherer:      registry,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				log.Errorf("Unable to stop HTTP server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down")

	return nil
}

// newWatcher connects to the node and verifies its network.
func newWatcher(ctx context.Context, cfg *config) (*chain.RPCWatcher, error) {
	var certs []byte
	if cfg.RPCTLS && cfg.RPCCert != "" {
		var err error
		certs, err = os.ReadFile(cfg.RPCCert)
		if err != nil {
			return nil, fmt.Errorf("cannot open CA file: %w", err)
		}
	}

	watcher, err := chain.NewRPCWatcher(&chain.RPCConfig{
		Host:         cfg.RPCConnect.Value,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Wallet:       cfg.RPCWallet,
		DisableTLS:   !cfg.RPCTLS,
		Certificates: certs,
		ChainParams:  cfg.activeNet.Params,
		Label:        cfg.AddressLabel,
	})
	if err != nil {
		return nil, err
	}

	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return nil, err
	}

	return watcher, nil
}

// newClaimer returns the redis claimer when a redis server is configured and
// the in-process one otherwise, together with a cleanup function.
func newClaimer(ctx context.Context, cfg *config) (claim.Claimer, func()) {
	if cfg.RedisAddr == "" {
		return claim.NewLocal(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	// Claims are advisory, so an unreachable server only degrades
	// coordination between instances.
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis at %s is unreachable: %v", cfg.RedisAddr, err)
	} else {
		log.Infof("Coordinating claims through redis at %s",
			cfg.RedisAddr)
	}

	return claim.NewRedis(client, cfg.ClaimTTL), func() {
		if err := client.Close(); err != nil {
			log.Errorf("Unable to close redis client: %v", err)
		}
	}
}
