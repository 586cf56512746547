// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// NodeRPCPort is the default JSON-RPC port of a bitcoind node on the
	// network.
	NodeRPCPort string

	// HTTPPort is the default port of the deposit HTTP surface.
	HTTPPort string
}

// MainNetParams contains parameters specific to the main network
// (wire.MainNet).
var MainNetParams = Params{
	Params:      &chaincfg.MainNetParams,
	NodeRPCPort: "8332",
	HTTPPort:    "8088",
}

// TestNet3Params contains parameters specific to the test network (version
// 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:      &chaincfg.TestNet3Params,
	NodeRPCPort: "18332",
	HTTPPort:    "18088",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:      &chaincfg.RegressionNetParams,
	NodeRPCPort: "18443",
	HTTPPort:    "28088",
}

// SigNetParams contains parameters specific to the default signet
// (wire.SigNet).
var SigNetParams = Params{
	Params:      &chaincfg.SigNetParams,
	NodeRPCPort: "38332",
	HTTPPort:    "38088",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet). The RPC port is the one of btcwallet in front of btcd.
var SimNetParams = Params{
	Params:      &chaincfg.SimNetParams,
	NodeRPCPort: "18554",
	HTTPPort:    "48088",
}

// ByName returns the parameters of the named network.
func ByName(name string) (*Params, error) {
	for _, p := range []*Params{
		&MainNetParams, &TestNet3Params, &RegressionNetParams,
		&SigNetParams, &SimNetParams,
	} {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
