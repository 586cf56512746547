// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

// Package sqltest runs deposit store tests against every supported SQL
// backend. Each test gets its own freshly migrated database.
package sqltest

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"
	"time"

	"github.com/btcsuite/btcdeposit/store"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates an isolated, migrated deposit store for a test. The
// store and its database are released when the test ends.
type StoreFactory func(t testing.TB) *store.Store

// StoreTestFunc is a test body run once per backend.
type StoreTestFunc func(t *testing.T, dialect store.Dialect,
	newStore StoreFactory)

// backends lists the dialects under test with the function that opens a
// fresh, empty database for each.
var backends = []struct {
	dialect store.Dialect
	open    func(t testing.TB) *sql.DB
}{
	{dialect: store.Postgres, open: openPostgres},
	{dialect: store.SQLite, open: openSQLite},
}

// RunStoreTest runs testFunc against a Postgres container and a SQLite file.
// The backends run in parallel.
func RunStoreTest(t *testing.T, testFunc StoreTestFunc) {
	t.Helper()

	for _, b := range backends {
		t.Run(b.dialect.String(), func(t *testing.T) {
			t.Parallel()
			testFunc(t, b.dialect, newStoreFactory(b.dialect, b.open))
		})
	}
}

// NewStore returns a migrated store on a fresh database of the dialect.
func NewStore(t testing.TB, dialect store.Dialect) *store.Store {
	t.Helper()

	for _, b := range backends {
		if b.dialect == dialect {
			return newStoreFactory(b.dialect, b.open)(t)
		}
	}

	t.Fatalf("no test backend for dialect %v", dialect)
	return nil
}

func newStoreFactory(dialect store.Dialect,
	open func(t testing.TB) *sql.DB) StoreFactory {

	return func(t testing.TB) *store.Store {
		t.Helper()

		s := store.New(open(t), dialect)

		ctx, cancel := context.WithTimeout(
			context.Background(), 30*time.Second,
		)
		defer cancel()

		require.NoError(t, s.Migrate(ctx), "failed to migrate %v store",
			dialect)

		return s
	}
}

// testDBName derives a database name from the test name. It stays the same
// between runs so Go test caching keeps working, and it is hashed because
// Postgres truncates identifiers longer than 63 bytes.
func testDBName(t testing.TB) string {
	t.Helper()

	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))
	require.NoError(t, err)

	name := fmt.Sprintf("btcdeposit_test_%08x", h.Sum32())
	t.Logf("test database: %s", name)

	return name
}
