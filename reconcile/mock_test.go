package reconcile

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcdeposit/chain"
	"github.com/btcsuite/btcdeposit/coinselect"
	"github.com/btcsuite/btcdeposit/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var (
	_ chain.Watcher   = (*mockWatcher)(nil)
	_ notify.Notifier = (*mockNotifier)(nil)
)

// mockWatcher is a mock implementation of chain.Watcher.
type mockWatcher struct {
	mock.Mock
}

func (m *mockWatcher) FreshAddress(ctx context.Context) (btcutil.Address,
	error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(btcutil.Address), args.Error(1)
}

func (m *mockWatcher) Watch(ctx context.Context, addr btcutil.Address) error {
	args := m.Called(ctx, addr)
	return args.Error(0)
}

func (m *mockWatcher) CandidateOutputs(ctx context.Context,
	addr btcutil.Address) ([]coinselect.Candidate, error) {

	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coinselect.Candidate), args.Error(1)
}

// mockNotifier is a mock implementation of notify.Notifier.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, ref string,
	amount decimal.Decimal, address string) error {

	args := m.Called(ctx, ref, amount, address)
	return args.Error(0)
}

// matchAddr matches an address argument by its encoding.
func matchAddr(addr btcutil.Address) interface{} {
	return mock.MatchedBy(func(a btcutil.Address) bool {
		return a.EncodeAddress() == addr.EncodeAddress()
	})
}

// matchAmount matches a decimal argument by value.
func matchAmount(amount string) interface{} {
	want := decimal.RequireFromString(amount)
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(want)
	})
}
