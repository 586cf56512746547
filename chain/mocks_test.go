package chain

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// mockRPCClient is a mock implementation of rpcClient.
type mockRPCClient struct {
	mock.Mock
}

var _ rpcClient = (*mockRPCClient)(nil)

func (m *mockRPCClient) GetBlockHash(height int64) (*chainhash.Hash, error) {
	args := m.Called(height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) GetNewAddress(account string) (btcutil.Address,
	error) {

	args := m.Called(account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(btcutil.Address), args.Error(1)
}

func (m *mockRPCClient) GetAddressInfo(
	address string) (*btcjson.GetAddressInfoResult, error) {

	args := m.Called(address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcjson.GetAddressInfoResult), args.Error(1)
}

func (m *mockRPCClient) GetDescriptorInfo(
	descriptor string) (*btcjson.GetDescriptorInfoResult, error) {

	args := m.Called(descriptor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcjson.GetDescriptorInfoResult), args.Error(1)
}

func (m *mockRPCClient) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	args := m.Called(method, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockRPCClient) ImportAddressRescan(address, account string,
	rescan bool) error {

	args := m.Called(address, account, rescan)
	return args.Error(0)
}

func (m *mockRPCClient) ListUnspentMinMaxAddresses(minConf, maxConf int,
	addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {

	args := m.Called(minConf, maxConf, addrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]btcjson.ListUnspentResult), args.Error(1)
}

func (m *mockRPCClient) ListUnspentMinMax(minConf,
	maxConf int) ([]btcjson.ListUnspentResult, error) {

	args := m.Called(minConf, maxConf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]btcjson.ListUnspentResult), args.Error(1)
}

func (m *mockRPCClient) GetTransaction(
	hash *chainhash.Hash) (*btcjson.GetTransactionResult, error) {

	args := m.Called(hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcjson.GetTransactionResult), args.Error(1)
}

func (m *mockRPCClient) GetMempoolEntry(
	txHash string) (*btcjson.GetMempoolEntryResult, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*btcjson.GetMempoolEntryResult), args.Error(1)
}

func (m *mockRPCClient) GetPeerInfo() ([]btcjson.GetPeerInfoResult, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]btcjson.GetPeerInfoResult), args.Error(1)
}

func (m *mockRPCClient) SendToAddress(address btcutil.Address,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	args := m.Called(address, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) Shutdown() {
	m.Called()
}
