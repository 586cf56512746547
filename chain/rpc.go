// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/davecgh/go-spew/spew"
)

const (
	// maxConfirmations is the upper bound passed to listunspent. It is
	// the value bitcoind itself uses as default.
	maxConfirmations = 9999999

	// sendCategory is the category of a wallet transaction detail that
	// spends from the wallet.
	sendCategory = "send"
)

// rpcClient is the subset of the btcd rpcclient used by the watcher. It is
// an interface so tests can substitute a mock.
type rpcClient interface {
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetNewAddress(account string) (btcutil.Address, error)
	GetAddressInfo(address string) (*btcjson.GetAddressInfoResult, error)
	ImportAddressRescan(address, account string, rescan bool) error
	GetDescriptorInfo(descriptor string) (*btcjson.GetDescriptorInfoResult,
		error)
	RawRequest(method string, params []json.RawMessage) (json.RawMessage,
		error)
	ListUnspentMinMaxAddresses(minConf, maxConf int,
		addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
	ListUnspentMinMax(minConf,
		maxConf int) ([]btcjson.ListUnspentResult, error)
	GetTransaction(txHash *chainhash.Hash) (*btcjson.GetTransactionResult,
		error)
	GetMempoolEntry(txHash string) (*btcjson.GetMempoolEntryResult, error)
	GetPeerInfo() ([]btcjson.GetPeerInfoResult, error)
	SendToAddress(address btcutil.Address,
		amount btcutil.Amount) (*chainhash.Hash, error)
	Shutdown()
}

// RPCConfig describes the connection to the wallet-enabled node.
type RPCConfig struct {
	// Host is the host:port of the node RPC server.
	Host string

	// User and Pass are the RPC credentials.
	User string
	Pass string

	// Wallet names the bitcoind wallet to use. It may be empty when the
	// node runs a single wallet.
	Wallet string

	// DisableTLS disables TLS on the RPC connection. bitcoind does not
	// serve TLS at all.
	DisableTLS bool

	// Certificates are the PEM encoded certificates of the RPC server,
	// used when TLS is enabled.
	Certificates []byte

	// ChainParams are the parameters of the network the node must run
	// on.
	ChainParams *chaincfg.Params

	// Label is the address label handed to getnewaddress.
	Label string
}

// RPCWatcher implements Wallet on top of the JSON-RPC interface of a wallet
// enabled bitcoind (or btcd with btcwallet) node. All calls are made in HTTP
// POST mode, so no long lived websocket is needed.
type RPCWatcher struct {
	cfg    RPCConfig
	client rpcClient

	stopOnce sync.Once
}

// A compile-time assertion to ensure RPCWatcher satisfies the Wallet
// interface.
var _ Wallet = (*RPCWatcher)(nil)

// NewRPCWatcher creates a watcher using a new POST mode RPC client. The
// connection is not verified until Start is called.
func NewRPCWatcher(cfg *RPCConfig) (*RPCWatcher, error) {
	if cfg.ChainParams == nil {
		return nil, errors.New("chain parameters are required")
	}

	host := cfg.Host
	if cfg.Wallet != "" {
		host = fmt.Sprintf("%s/wallet/%s", host, cfg.Wallet)
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Certificates:         cfg.Certificates,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, err
	}

	return newRPCWatcher(cfg, client), nil
}

// newRPCWatcher creates a watcher around an existing client.
func newRPCWatcher(cfg *RPCConfig, client rpcClient) *RPCWatcher {
	return &RPCWatcher{
		cfg:    *cfg,
		client: client,
	}
}

// Start verifies that the node runs on the configured network.
func (w *RPCWatcher) Start(ctx context.Context) error {
	net, err := getCurrentNet(ctx, w.client)
	if err != nil {
		return mapRPCErr("determine node network", err)
	}
	if net != w.cfg.ChainParams.Net {
		return fmt.Errorf("expected network %v, got %v",
			w.cfg.ChainParams.Net, net)
	}

	log.Infof("Connected to %v node at %s", w.cfg.ChainParams.Name,
		w.cfg.Host)

	return nil
}

// Stop shuts down the RPC client.
func (w *RPCWatcher) Stop() {
	w.stopOnce.Do(func() {
		log.Info("Watcher shutting down")
		w.client.Shutdown()
	})
}

// FreshAddress asks the node wallet for a new receiving address.
func (w *RPCWatcher) FreshAddress(ctx context.Context) (btcutil.Address,
	error) {

	addr, err := call(ctx, func() (btcutil.Address, error) {
		return w.client.GetNewAddress(w.cfg.Label)
	})
	if err != nil {
		return nil, mapRPCErr("getnewaddress", err)
	}

	log.Debugf("Generated fresh address %v", addr)

	return addr, nil
}

// Watch makes sure the node wallet tracks payments to addr. Addresses the
// wallet already owns or watches are left alone. Others are imported without
// a rescan, through importaddress on legacy wallets and importdescriptors on
// descriptor wallets.
func (w *RPCWatcher) Watch(ctx context.Context, addr btcutil.Address) error {
	known, err := w.isKnownAddress(ctx, addr)
	if err != nil {
		return err
	}
	if known {
		log.Debugf("Address %v already tracked by the node wallet", addr)
		return nil
	}

	_, err = call(ctx, func() (struct{}, error) {
		return struct{}{}, w.client.ImportAddressRescan(
			addr.EncodeAddress(), "", false,
		)
	})
	switch {
	case err == nil:

	// Descriptor wallets refuse the legacy import RPCs.
	case isRPCErrCode(err, btcjson.ErrRPCWallet):
		if err := w.importDescriptor(ctx, addr); err != nil {
			return err
		}

	default:
		return mapRPCErr("importaddress", err)
	}

	log.Debugf("Watching address %v", addr)

	return nil
}

// isKnownAddress reports whether the node wallet owns or watches addr. Nodes
// without getaddressinfo report every address as unknown.
func (w *RPCWatcher) isKnownAddress(ctx context.Context,
	addr btcutil.Address) (bool, error) {

	info, err := call(ctx, func() (*btcjson.GetAddressInfoResult, error) {
		return w.client.GetAddressInfo(addr.EncodeAddress())
	})
	switch {
	case err == nil:
		return info.IsMine || info.IsWatchOnly, nil

	case isRPCErrCode(err, btcjson.ErrRPCMethodNotFound.Code):
		return false, nil

	default:
		return false, mapRPCErr("getaddressinfo", err)
	}
}

// importDescriptorRequest is a single entry of the importdescriptors request.
type importDescriptorRequest struct {
	Desc      string `json:"desc"`
	Timestamp string `json:"timestamp"`
	Label     string `json:"label,omitempty"`
}

// importDescriptorResult is a single entry of the importdescriptors reply.
type importDescriptorResult struct {
	Success bool              `json:"success"`
	Error   *btcjson.RPCError `json:"error,omitempty"`
}

// importDescriptor imports addr as a watch-only addr() descriptor. Only new
// payments are of interest, so the wallet is not rescanned.
func (w *RPCWatcher) importDescriptor(ctx context.Context,
	addr btcutil.Address) error {

	desc := fmt.Sprintf("addr(%s)", addr.EncodeAddress())
	info, err := call(ctx, func() (*btcjson.GetDescriptorInfoResult, error) {
		return w.client.GetDescriptorInfo(desc)
	})
	if err != nil {
		return mapRPCErr("getdescriptorinfo", err)
	}

	param, err := json.Marshal([]importDescriptorRequest{{
		Desc:      desc + "#" + info.Checksum,
		Timestamp: "now",
		Label:     w.cfg.Label,
	}})
	if err != nil {
		return err
	}

	reply, err := call(ctx, func() (json.RawMessage, error) {
		return w.client.RawRequest(
			"importdescriptors", []json.RawMessage{param},
		)
	})
	if err != nil {
		return mapRPCErr("importdescriptors", err)
	}

	var results []importDescriptorResult
	if err := json.Unmarshal(reply, &results); err != nil {
		return mapRPCErr("importdescriptors", err)
	}
	if len(results) != 1 {
		return mapRPCErr("importdescriptors", fmt.Errorf("expected 1 "+
			"result, got %d", len(results)))
	}
	if !results[0].Success {
		reason := errors.New("import rejected")
		if results[0].Error != nil {
			reason = results[0].Error
		}
		return mapRPCErr("importdescriptors", reason)
	}

	return nil
}

// CandidateOutputs returns the unspent outputs paying to addr, including
// unconfirmed ones.
func (w *RPCWatcher) CandidateOutputs(ctx context.Context,
	addr btcutil.Address) ([]coinselect.Candidate, error) {

	unspent, err := call(ctx, func() ([]btcjson.ListUnspentResult, error) {
		return w.client.ListUnspentMinMaxAddresses(
			0, maxConfirmations, []btcutil.Address{addr},
		)
	})
	if err != nil {
		return nil, mapRPCErr("listunspent", err)
	}

	return w.candidates(ctx, unspent)
}

// AllCandidateOutputs returns every unspent output of the node wallet.
func (w *RPCWatcher) AllCandidateOutputs(
	ctx context.Context) ([]coinselect.Candidate, error) {

	unspent, err := call(ctx, func() ([]btcjson.ListUnspentResult, error) {
		return w.client.ListUnspentMinMax(0, maxConfirmations)
	})
	if err != nil {
		return nil, mapRPCErr("listunspent", err)
	}

	return w.candidates(ctx, unspent)
}

// Send pays amount to addr from the node wallet.
func (w *RPCWatcher) Send(ctx context.Context, addr btcutil.Address,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	hash, err := call(ctx, func() (*chainhash.Hash, error) {
		return w.client.SendToAddress(addr, amount)
	})
	switch {
	case err == nil:

	case isRPCErrCode(err, btcjson.ErrRPCWalletInsufficientFunds):
		str := fmt.Sprintf("wallet cannot fund %v", amount)
		return nil, deposit.NewError(
			deposit.ErrInsufficientFunds, str, err,
		)

	default:
		return nil, mapRPCErr("sendtoaddress", err)
	}

	log.Infof("Sent %v to %v in transaction %v", amount, addr, hash)

	return hash, nil
}

// candidates converts listunspent results into candidates. Confidence
// details that only matter for unconfirmed outputs are looked up lazily,
// once per transaction.
func (w *RPCWatcher) candidates(ctx context.Context,
	unspent []btcjson.ListUnspentResult) ([]coinselect.Candidate, error) {

	var (
		selfOriginated = make(map[chainhash.Hash]bool)
		peers          = int32(-1)
		cands          = make([]coinselect.Candidate, 0, len(unspent))
	)
	for i := range unspent {
		u := &unspent[i]

		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", u.TxID, err)
		}
		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount of %v:%d: %w",
				hash, u.Vout, err)
		}

		// listunspent only reports unspent outputs, so every candidate
		// is available for spending.
		cand := coinselect.Candidate{
			Address:   u.Address,
			TxHash:    *hash,
			Index:     u.Vout,
			Value:     value,
			Spendable: true,
		}

		switch {
		case u.Confirmations > 0:
			cand.Confidence = coinselect.ConfidenceBuilding
			cand.Depth = int32(u.Confirmations)

		case u.Confirmations == 0:
			cand.Confidence = coinselect.ConfidencePending

			self, ok := selfOriginated[*hash]
			if !ok {
				self, err = w.isSelfOriginated(ctx, hash)
				if err != nil {
					return nil, err
				}
				selfOriginated[*hash] = self
			}
			cand.SelfOriginated = self

			// Peer counts only matter for our own transactions.
			if self {
				if peers < 0 {
					peers, err = w.broadcastPeers(ctx)
					if err != nil {
						return nil, err
					}
				}

				inMempool, err := w.inMempool(ctx, hash)
				if err != nil {
					return nil, err
				}
				if inMempool {
					cand.BroadcastPeers = peers
				}
			}

		default:
			cand.Confidence = coinselect.ConfidenceOther
		}

		cands = append(cands, cand)
	}

	log.Tracef("Candidate outputs: %v", newLogClosure(func() string {
		return spew.Sdump(cands)
	}))

	return cands, nil
}

// isSelfOriginated reports whether the wallet funded the transaction.
func (w *RPCWatcher) isSelfOriginated(ctx context.Context,
	hash *chainhash.Hash) (bool, error) {

	tx, err := call(ctx, func() (*btcjson.GetTransactionResult, error) {
		return w.client.GetTransaction(hash)
	})
	if err != nil {
		return false, mapRPCErr("gettransaction", err)
	}

	for _, detail := range tx.Details {
		if detail.Category == sendCategory {
			return true, nil
		}
	}
	return false, nil
}

// inMempool reports whether the node currently holds the transaction in its
// mempool. A transaction the node relays is announced to all its peers.
func (w *RPCWatcher) inMempool(ctx context.Context,
	hash *chainhash.Hash) (bool, error) {

	_, err := call(ctx, func() (*btcjson.GetMempoolEntryResult, error) {
		return w.client.GetMempoolEntry(hash.String())
	})
	switch {
	case err == nil:
		return true, nil

	case isRPCErrCode(err, btcjson.ErrRPCInvalidAddressOrKey):
		return false, nil

	default:
		return false, mapRPCErr("getmempoolentry", err)
	}
}

// broadcastPeers returns the number of peers the node is connected to.
func (w *RPCWatcher) broadcastPeers(ctx context.Context) (int32, error) {
	info, err := call(ctx, func() ([]btcjson.GetPeerInfoResult, error) {
		return w.client.GetPeerInfo()
	})
	if err != nil {
		return 0, mapRPCErr("getpeerinfo", err)
	}
	return int32(len(info)), nil
}

// call runs a blocking RPC in its own goroutine so the caller can give up
// when ctx is done. The RPC itself is not interrupted and its result is
// discarded.
func call[T any](ctx context.Context, f func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	done := make(chan result, 1)
	go func() {
		val, err := f()
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// mapRPCErr classifies an RPC failure. Context errors are returned as is,
// everything else makes the watcher unavailable for this attempt.
func mapRPCErr(desc string, err error) error {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {

		return err
	}
	return deposit.NewError(deposit.ErrWatcherUnavailable, desc, err)
}

// isRPCErrCode reports whether err is a JSON-RPC error with the given code.
func isRPCErrCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == code
	}
	return false
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
