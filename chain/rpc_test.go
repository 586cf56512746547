package chain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTxA = "a1075db55d416d3ca199f55b6084e2115b9345e16c5cf302fc80e9d5fbf5d48d"
	testTxB = "fff2525b8931402dd09222c50775608f75787bd2b87e56995a7bdd30f79702c4"
)

func newTestWatcher(t *testing.T) (*RPCWatcher, *mockRPCClient,
	btcutil.Address) {

	t.Helper()

	addr, err := btcutil.DecodeAddress(
		"bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080",
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	client := &mockRPCClient{}
	t.Cleanup(func() { client.AssertExpectations(t) })

	w := newRPCWatcher(&RPCConfig{
		ChainParams: &chaincfg.RegressionNetParams,
		Label:       "deposit",
	}, client)

	return w, client, addr
}

func TestStartChecksNetwork(t *testing.T) {
	t.Parallel()

	w, client, _ := newTestWatcher(t)
	client.On("GetBlockHash", int64(0)).Return(
		chaincfg.RegressionNetParams.GenesisHash, nil,
	).Once()
	require.NoError(t, w.Start(context.Background()))

	client.On("GetBlockHash", int64(0)).Return(
		chaincfg.MainNetParams.GenesisHash, nil,
	).Once()
	require.ErrorContains(t, w.Start(context.Background()),
		"expected network")
}

func TestStartWaitsForLoadingNode(t *testing.T) {
	startupRetryInterval = 10 * time.Millisecond
	t.Cleanup(func() { startupRetryInterval = time.Second })

	w, client, _ := newTestWatcher(t)
	client.On("GetBlockHash", int64(0)).Return(
		nil, errors.New("-28: Loading block index..."),
	).Twice()
	client.On("GetBlockHash", int64(0)).Return(
		chaincfg.RegressionNetParams.GenesisHash, nil,
	).Once()

	require.NoError(t, w.Start(context.Background()))
}

func TestFreshAddressAndWatch(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	client.On("GetNewAddress", "deposit").Return(addr, nil).Once()
	got, err := w.FreshAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), got.EncodeAddress())

	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		&btcjson.GetAddressInfoResult{}, nil,
	).Once()
	client.On(
		"ImportAddressRescan", addr.EncodeAddress(), "", false,
	).Return(nil).Once()
	require.NoError(t, w.Watch(ctx, addr))
}

func TestWatchOwnedAddress(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	// A descriptor wallet rejects importaddress, but addresses it issued
	// itself need no import at all.
	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		&btcjson.GetAddressInfoResult{IsMine: true}, nil,
	).Times(3)
	client.On("ImportAddressRescan", mock.Anything, mock.Anything, false).
		Return(&btcjson.RPCError{
			Code:    btcjson.ErrRPCWallet,
			Message: "Only legacy wallets are supported by this command",
		}).Maybe()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Watch(ctx, addr))
	}
	client.AssertNotCalled(t, "ImportAddressRescan", mock.Anything,
		mock.Anything, mock.Anything)
}

func TestWatchDescriptorWallet(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	desc := "addr(" + addr.EncodeAddress() + ")"
	legacyOnly := &btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "Only legacy wallets are supported by this command",
	}

	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		&btcjson.GetAddressInfoResult{}, nil,
	).Twice()
	client.On("ImportAddressRescan", addr.EncodeAddress(), "", false).
		Return(legacyOnly).Twice()
	client.On("GetDescriptorInfo", desc).Return(
		&btcjson.GetDescriptorInfoResult{
			Descriptor: desc,
			Checksum:   "8fhd9pwu",
		}, nil,
	).Twice()

	var sent []json.RawMessage
	client.On("RawRequest", "importdescriptors", mock.Anything).Run(
		func(args mock.Arguments) {
			sent = args.Get(1).([]json.RawMessage)
		},
	).Return(json.RawMessage(`[{"success":true}]`), nil).Once()

	require.NoError(t, w.Watch(ctx, addr))

	require.Len(t, sent, 1)
	var reqs []importDescriptorRequest
	require.NoError(t, json.Unmarshal(sent[0], &reqs))
	require.Equal(t, []importDescriptorRequest{{
		Desc:      desc + "#8fhd9pwu",
		Timestamp: "now",
		Label:     "deposit",
	}}, reqs)

	// A rejected import leaves the watcher unavailable for this attempt.
	client.On("RawRequest", "importdescriptors", mock.Anything).Return(
		json.RawMessage(`[{"success":false,"error":`+
			`{"code":-5,"message":"Invalid address"}}]`), nil,
	).Once()
	err := w.Watch(ctx, addr)
	require.True(t, deposit.IsError(err, deposit.ErrWatcherUnavailable))
	require.ErrorContains(t, err, "Invalid address")
}

func TestWatchWithoutAddressInfo(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)

	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		nil, btcjson.ErrRPCMethodNotFound,
	).Once()
	client.On("ImportAddressRescan", addr.EncodeAddress(), "", false).
		Return(nil).Once()

	require.NoError(t, w.Watch(context.Background(), addr))
}

func TestWatcherUnavailable(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	client.On("GetNewAddress", "deposit").Return(
		nil, errors.New("connection refused"),
	).Once()
	_, err := w.FreshAddress(ctx)
	require.True(t, deposit.IsError(err, deposit.ErrWatcherUnavailable))

	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		nil, errors.New("timeout"),
	).Once()
	err = w.Watch(ctx, addr)
	require.True(t, deposit.IsError(err, deposit.ErrWatcherUnavailable))

	client.On("GetAddressInfo", addr.EncodeAddress()).Return(
		&btcjson.GetAddressInfoResult{}, nil,
	).Once()
	client.On("ImportAddressRescan", mock.Anything, mock.Anything, false).
		Return(errors.New("timeout")).Once()
	err = w.Watch(ctx, addr)
	require.True(t, deposit.IsError(err, deposit.ErrWatcherUnavailable))
}

func TestCallHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := call(ctx, func() (int, error) {
		t.Fatal("call must not run with a done context")
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(),
		10*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	_, err = call(ctx, func() (int, error) {
		<-block
		return 1, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCandidateOutputs(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	hashA, err := chainhash.NewHashFromStr(testTxA)
	require.NoError(t, err)
	hashB, err := chainhash.NewHashFromStr(testTxB)
	require.NoError(t, err)

	unspent := []btcjson.ListUnspentResult{
		{
			TxID:          testTxA,
			Vout:          1,
			Address:       addr.EncodeAddress(),
			Amount:        0.05,
			Confirmations: 6,
		},
		{
			TxID:          testTxB,
			Vout:          0,
			Address:       addr.EncodeAddress(),
			Amount:        0.001,
			Confirmations: 0,
		},
		{
			TxID:          testTxB,
			Vout:          2,
			Address:       addr.EncodeAddress(),
			Amount:        0.002,
			Confirmations: 0,
		},
	}
	client.On(
		"ListUnspentMinMaxAddresses", 0, maxConfirmations,
		[]btcutil.Address{addr},
	).Return(unspent, nil).Once()

	// The unconfirmed transaction is ours and in the mempool. Both
	// lookups happen once even though it has two outputs.
	client.On("GetTransaction", hashB).Return(
		&btcjson.GetTransactionResult{
			Details: []btcjson.GetTransactionDetailsResult{
				{Category: "receive"},
				{Category: "send"},
			},
		}, nil,
	).Once()
	client.On("GetPeerInfo").Return(
		make([]btcjson.GetPeerInfoResult, 3), nil,
	).Once()
	client.On("GetMempoolEntry", testTxB).Return(
		&btcjson.GetMempoolEntryResult{}, nil,
	).Twice()

	cands, err := w.CandidateOutputs(ctx, addr)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	require.Equal(t, *hashA, cands[0].TxHash)
	require.Equal(t, uint32(1), cands[0].Index)
	require.Equal(t, btcutil.Amount(5_000_000), cands[0].Value)
	require.Equal(t, coinselect.ConfidenceBuilding, cands[0].Confidence)
	require.Equal(t, int32(6), cands[0].Depth)
	require.True(t, cands[0].Spendable)

	require.Equal(t, coinselect.ConfidencePending, cands[1].Confidence)
	require.True(t, cands[1].SelfOriginated)
	require.Equal(t, int32(3), cands[1].BroadcastPeers)
	require.Equal(t, btcutil.Amount(100_000), cands[1].Value)
	require.Equal(t, int32(3), cands[2].BroadcastPeers)

	policy := coinselect.DefaultPolicy
	require.Equal(t, btcutil.Amount(5_300_000),
		coinselect.Balance(policy, cands))
}

func TestForeignPendingOutputs(t *testing.T) {
	t.Parallel()

	w, client, _ := newTestWatcher(t)
	ctx := context.Background()

	hashB, err := chainhash.NewHashFromStr(testTxB)
	require.NoError(t, err)

	client.On("ListUnspentMinMax", 0, maxConfirmations).Return(
		[]btcjson.ListUnspentResult{{
			TxID:   testTxB,
			Amount: 1,
		}}, nil,
	).Once()
	client.On("GetTransaction", hashB).Return(
		&btcjson.GetTransactionResult{
			Details: []btcjson.GetTransactionDetailsResult{
				{Category: "receive"},
			},
		}, nil,
	).Once()

	cands, err := w.AllCandidateOutputs(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.False(t, cands[0].SelfOriginated)
	require.Zero(t, cands[0].BroadcastPeers)
	require.Zero(t, coinselect.Balance(coinselect.DefaultPolicy, cands))
}

func TestDroppedFromMempool(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)
	ctx := context.Background()

	hashB, err := chainhash.NewHashFromStr(testTxB)
	require.NoError(t, err)

	client.On("ListUnspentMinMaxAddresses", 0, maxConfirmations,
		mock.Anything).Return([]btcjson.ListUnspentResult{{
		TxID:   testTxB,
		Amount: 0.5,
	}}, nil).Once()
	client.On("GetTransaction", hashB).Return(
		&btcjson.GetTransactionResult{
			Details: []btcjson.GetTransactionDetailsResult{
				{Category: "send"},
			},
		}, nil,
	).Once()
	client.On("GetPeerInfo").Return(
		make([]btcjson.GetPeerInfoResult, 8), nil,
	).Once()
	client.On("GetMempoolEntry", testTxB).Return(
		nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCInvalidAddressOrKey,
			Message: "Transaction not in mempool",
		},
	).Once()

	cands, err := w.CandidateOutputs(ctx, addr)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.True(t, cands[0].SelfOriginated)
	require.Zero(t, cands[0].BroadcastPeers)
}

func TestSend(t *testing.T) {
	t.Parallel()

	w, client, addr := newTestWatcher(t)

	hash, err := chainhash.NewHashFromStr(testTxA)
	require.NoError(t, err)

	client.On("SendToAddress", addr, btcutil.Amount(1000)).
		Return(hash, nil).Once()
	got, err := w.Send(context.Background(), addr, 1000)
	require.NoError(t, err)
	require.Equal(t, hash, got)

	client.On("SendToAddress", addr, btcutil.Amount(2000)).Return(
		nil, &btcjson.RPCError{
			Code:    btcjson.ErrRPCWalletInsufficientFunds,
			Message: "Insufficient funds",
		},
	).Once()
	_, err = w.Send(context.Background(), addr, 2000)
	require.True(t, deposit.IsError(err, deposit.ErrInsufficientFunds))

	client.On("SendToAddress", addr, btcutil.Amount(3000)).Return(
		nil, errors.New("connection reset"),
	).Once()
	_, err = w.Send(context.Background(), addr, 3000)
	require.True(t, deposit.IsError(err, deposit.ErrWatcherUnavailable))

	client.On("Shutdown").Return().Once()
	w.Stop()
	w.Stop()
}
