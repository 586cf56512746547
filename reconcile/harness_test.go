package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcdeposit/claim"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/btcsuite/btcdeposit/store"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// testHarness bundles a loop with a SQLite store and mocked chain and
// notification collaborators.
type testHarness struct {
	t        *testing.T
	store    *store.Store
	watcher  *mockWatcher
	notifier *mockNotifier
	claimer  *claim.Local
	metrics  *Metrics
	ticker   *ticker.Force
	loop     *Loop
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := store.SQLiteDSN(filepath.Join(t.TempDir(), "reconcile.sqlite"))
	s, err := store.Open(context.Background(), store.SQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	h := &testHarness{
		t:        t,
		store:    s,
		watcher:  &mockWatcher{},
		notifier: &mockNotifier{},
		claimer:  claim.NewLocal(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		ticker:   ticker.NewForce(time.Hour),
	}
	t.Cleanup(func() {
		h.watcher.AssertExpectations(t)
		h.notifier.AssertExpectations(t)
	})

	h.loop, err = NewLoop(&LoopConfig{
		Store:         s,
		Watcher:       h.watcher,
		Notifier:      h.notifier,
		Claimer:       h.claimer,
		Policy:        coinselect.DefaultPolicy,
		ChainParams:   testParams,
		Workers:       4,
		Ticker:        h.ticker,
		NotifyTimeout: time.Second,
		Metrics:       h.metrics,
	})
	require.NoError(t, err)

	return h
}

// createRequest inserts a pending request for amount BTC.
func (h *testHarness) createRequest(owner int64, amount,
	ref string) *deposit.Request {

	h.t.Helper()

	req, err := h.store.CreateRequest(
		context.Background(), owner, decimal.RequireFromString(amount),
		ref,
	)
	require.NoError(h.t, err)
	return req
}

// request reloads a request.
func (h *testHarness) request(id int64) *deposit.Request {
	h.t.Helper()

	req, err := h.store.Request(context.Background(), id)
	require.NoError(h.t, err)
	return req
}

// ledgerEntries returns the number of ledger entries of a request.
func (h *testHarness) ledgerEntries(id int64) int64 {
	h.t.Helper()

	n, err := h.store.CountLedgerEntries(context.Background(), id)
	require.NoError(h.t, err)
	return n
}

// testAddress returns a distinct regtest P2WPKH address per seed.
func testAddress(t *testing.T, seed byte) btcutil.Address {
	t.Helper()

	var hash [20]byte
	hash[0] = seed
	hash[19] = 0xaa
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash[:], testParams)
	require.NoError(t, err)
	return addr
}

// building returns a chain-included candidate paying value to addr.
func building(addr btcutil.Address, value btcutil.Amount,
	depth int32) coinselect.Candidate {

	return coinselect.Candidate{
		Address:    addr.EncodeAddress(),
		TxHash:     chainhash.Hash{byte(depth), byte(value)},
		Value:      value,
		Depth:      depth,
		Confidence: coinselect.ConfidenceBuilding,
		Spendable:  true,
	}
}
