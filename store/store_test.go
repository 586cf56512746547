// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testAddr = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

// newTestStore returns a migrated store backed by a temporary SQLite file.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := SQLiteDSN(filepath.Join(t.TempDir(), "deposit.sqlite"))

	s, err := Open(context.Background(), SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	require.NoError(t, s.Migrate(context.Background()))

	return s
}

// newWaitingRequest creates a request and walks it to waiting.
func newWaitingRequest(t *testing.T, s *Store) *deposit.Request {
	t.Helper()

	ctx := context.Background()
	req, err := s.CreateRequest(
		ctx, 7, decimal.RequireFromString("0.05"), "ref-7",
	)
	require.NoError(t, err)

	_, err = s.AssignAddress(ctx, req.ID, testAddr)
	require.NoError(t, err)
	require.NoError(t, s.MarkWaiting(ctx, req.ID))

	req, err = s.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, deposit.StatusWaiting, req.Status)

	return req
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"postgres", "postgresql", "pgx"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		require.Equal(t, Postgres, d)
	}
	for _, name := range []string{"sqlite", "sqlite3"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		require.Equal(t, SQLite, d)
	}

	_, err := ParseDialect("mysql")
	require.Error(t, err)
}

func TestCreateAndFetchRequest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	req, err := s.CreateRequest(
		ctx, 42, decimal.RequireFromString("0.00012345"), "ref",
	)
	require.NoError(t, err)
	require.NotZero(t, req.ID)
	require.Equal(t, int64(42), req.OwnerID)
	require.Equal(t, deposit.StatusPending, req.Status)
	require.True(t, req.Address.IsNone())
	require.True(t, decimal.RequireFromString("0.00012345").Equal(
		req.Amount,
	))
	require.True(t, fixed.Equal(req.CreatedAt))

	got, err := s.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
	require.Equal(t, "ref", got.NotifyRef)
	require.Zero(t, got.Version)

	_, err = s.Request(ctx, req.ID+100)
	require.True(t, deposit.IsError(err, deposit.ErrNotFound))

	_, err = s.CreateRequest(ctx, 1, decimal.NewFromInt(-1), "")
	require.ErrorContains(t, err, "negative")

	// Postgres would round this to 8 places while SQLite keeps it as is.
	_, err = s.CreateRequest(
		ctx, 1, decimal.RequireFromString("0.000000015"), "",
	)
	require.ErrorContains(t, err, "sub-satoshi")

	_, err = s.CreateRequest(ctx, 1, decimal.NewFromInt(21_000_001), "")
	require.ErrorContains(t, err, "money supply")

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[deposit.StatusPending])
}

func TestRequestsByStatus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := range 5 {
		req, err := s.CreateRequest(
			ctx, int64(i), decimal.NewFromInt(1), "",
		)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	_, err := s.AssignAddress(ctx, ids[1], testAddr)
	require.NoError(t, err)

	pending, err := s.RequestsByStatus(ctx, deposit.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	for i := 1; i < len(pending); i++ {
		require.Less(t, pending[i-1].ID, pending[i].ID)
	}

	limited, err := s.RequestsByStatus(ctx, deposit.StatusPending, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, ids[0], limited[0].ID)

	assigned, err := s.RequestsByStatus(ctx, deposit.StatusAssigned, 10)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	require.Equal(t, testAddr, assigned[0].Address.UnwrapOr(""))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), counts[deposit.StatusPending])
	require.Equal(t, int64(1), counts[deposit.StatusAssigned])
	require.Zero(t, counts[deposit.StatusCompleted])
}

func TestAssignAddress(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, 1, decimal.NewFromInt(1), "")
	require.NoError(t, err)

	got, err := s.AssignAddress(ctx, req.ID, testAddr)
	require.NoError(t, err)
	require.Equal(t, deposit.StatusAssigned, got.Status)
	require.Equal(t, testAddr, got.Address.UnwrapOr(""))
	require.Equal(t, int64(1), got.Version)

	// A second assignment is stale and leaves the first address intact.
	_, err = s.AssignAddress(ctx, req.ID, "other")
	require.True(t, deposit.IsError(err, deposit.ErrStaleRequest), err)

	got, err = s.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, testAddr, got.Address.UnwrapOr(""))

	_, err = s.AssignAddress(ctx, req.ID+1, testAddr)
	require.True(t, deposit.IsError(err, deposit.ErrNotFound), err)

	// Addresses are never shared between requests.
	other, err := s.CreateRequest(ctx, 2, decimal.NewFromInt(1), "")
	require.NoError(t, err)
	_, err = s.AssignAddress(ctx, other.ID, testAddr)
	require.Error(t, err)

	got, err = s.Request(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, deposit.StatusPending, got.Status)
}

func TestConcurrentAssignOneWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, 1, decimal.NewFromInt(1), "")
	require.NoError(t, err)

	const workers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, workers)
		addr = []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.AssignAddress(ctx, req.ID, addr[i])
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, deposit.IsError(err, deposit.ErrStaleRequest),
			err)
	}
	require.Equal(t, 1, wins)
}

func TestMarkWaiting(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, 1, decimal.NewFromInt(1), "")
	require.NoError(t, err)

	// Pending cannot skip straight to waiting.
	err = s.MarkWaiting(ctx, req.ID)
	require.True(t, deposit.IsError(err, deposit.ErrStaleRequest), err)

	_, err = s.AssignAddress(ctx, req.ID, testAddr)
	require.NoError(t, err)
	require.NoError(t, s.MarkWaiting(ctx, req.ID))

	err = s.MarkWaiting(ctx, req.ID)
	require.True(t, deposit.IsError(err, deposit.ErrStaleRequest), err)
}

func TestCompleteWithCredit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	req := newWaitingRequest(t, s)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	entry := deposit.NewLedgerEntry(req, req.Amount, now)
	require.NoError(t, s.CompleteWithCredit(ctx, entry))

	got, err := s.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, deposit.StatusCompleted, got.Status)
	require.Equal(t, int64(3), got.Version)

	stored, err := s.LedgerEntry(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, stored.ID)
	require.Equal(t, entry.Destination, stored.Destination)
	require.Equal(t, deposit.LedgerSource, stored.Source)
	require.Equal(t, entry.Memo, stored.Memo)
	require.True(t, entry.Amount.Equal(stored.Amount))
	require.True(t, now.Equal(stored.CreatedAt))
}

func TestCompleteWithCreditExactlyOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	req := newWaitingRequest(t, s)

	now := time.Now()
	require.NoError(t, s.CompleteWithCredit(
		ctx, deposit.NewLedgerEntry(req, req.Amount, now),
	))

	// A second poster with a fresh entry id is rejected by the unique
	// constraint, not by the status check.
	err := s.CompleteWithCredit(
		ctx, deposit.NewLedgerEntry(req, req.Amount, now),
	)
	require.True(t, deposit.IsError(err, deposit.ErrDuplicateCredit), err)

	n, err := s.CountLedgerEntries(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestCompleteWithCreditRollsBack(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// The request is only assigned, so the status update fails after the
	// ledger insert succeeded. Nothing may be left behind.
	req, err := s.CreateRequest(ctx, 3, decimal.NewFromInt(2), "")
	require.NoError(t, err)
	_, err = s.AssignAddress(ctx, req.ID, testAddr)
	require.NoError(t, err)

	err = s.CompleteWithCredit(
		ctx, deposit.NewLedgerEntry(req, req.Amount, time.Now()),
	)
	require.True(t, deposit.IsError(err, deposit.ErrStaleRequest), err)

	n, err := s.CountLedgerEntries(ctx, req.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = s.LedgerEntry(ctx, req.ID)
	require.True(t, deposit.IsError(err, deposit.ErrNotFound), err)
}

func TestConcurrentCompleteOneCredit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	req := newWaitingRequest(t, s)

	const posters = 6
	var (
		wg   sync.WaitGroup
		errs = make([]error, posters)
	)
	for i := range posters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := deposit.NewLedgerEntry(
				req, req.Amount, time.Now(),
			)
			errs[i] = s.CompleteWithCredit(ctx, entry)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t,
			deposit.IsError(err, deposit.ErrDuplicateCredit) ||
				deposit.IsError(err, deposit.ErrStaleRequest), err)
	}
	require.Equal(t, 1, wins)

	n, err := s.CountLedgerEntries(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "closed.sqlite")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	s := New(db, SQLite)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, db.Close())

	_, err = s.Request(context.Background(), 1)
	require.True(t,
		deposit.IsError(err, deposit.ErrDatastoreUnavailable), err)
}
