// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// errStillLoadingCode is the error code returned when an RPC request
	// is made but bitcoind is still in the process of loading or
	// verifying blocks.
	errStillLoadingCode = "-28"

	// nodeStartTimeout is the time we wait for the node to finish
	// loading block index.
	nodeStartTimeout = 30 * time.Second
)

// ErrNodeStartTimeout is returned when the node fails to load within
// nodeStartTimeout.
var ErrNodeStartTimeout = errors.New("node start timeout")

// startupRetryInterval is how often getblockhash is retried while the node
// is still loading. It is a variable so tests can shorten it.
var startupRetryInterval = time.Second

// getGenesisHash calls getblockhash for the genesis block. It catches the
// case where the node is still loading blocks and returns
//   - "-28: Loading block index..."
//   - "-28: Verifying blocks..."
//
// In this case it retries until nodeStartTimeout passes.
func getGenesisHash(ctx context.Context,
	client rpcClient) (*chainhash.Hash, error) {

	getHash := func() (*chainhash.Hash, error) {
		return call(ctx, func() (*chainhash.Hash, error) {
			return client.GetBlockHash(0)
		})
	}

	hash, err := getHash()
	if err == nil {
		return hash, nil
	}
	if !strings.Contains(err.Error(), errStillLoadingCode) {
		return nil, err
	}

	timeout := time.After(nodeStartTimeout)
	for {
		select {
		case <-timeout:
			return nil, ErrNodeStartTimeout

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-time.After(startupRetryInterval):
			hash, err = getHash()
			if err == nil {
				return hash, nil
			}
			if !strings.Contains(err.Error(), errStillLoadingCode) {
				return nil, err
			}

			log.Debugf("Node still loading: %v", err)
		}
	}
}

// getCurrentNet returns the network on which the node is running.
func getCurrentNet(ctx context.Context,
	client rpcClient) (wire.BitcoinNet, error) {

	hash, err := getGenesisHash(ctx, client)
	if err != nil {
		return 0, err
	}

	switch *hash {
	case *chaincfg.TestNet3Params.GenesisHash:
		return chaincfg.TestNet3Params.Net, nil
	case *chaincfg.RegressionNetParams.GenesisHash:
		return chaincfg.RegressionNetParams.Net, nil
	case *chaincfg.SigNetParams.GenesisHash:
		return chaincfg.SigNetParams.Net, nil
	case *chaincfg.SimNetParams.GenesisHash:
		return chaincfg.SimNetParams.Net, nil
	case *chaincfg.MainNetParams.GenesisHash:
		return chaincfg.MainNetParams.Net, nil
	default:
		return 0, fmt.Errorf("unknown network with genesis hash %v",
			hash)
	}
}
