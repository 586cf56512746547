// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build integration_test

package sqltest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcdeposit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openSQLite opens a new database file in the test's temporary directory,
// configured the way btcdepositd configures its default datastore.
func openSQLite(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), testDBName(t)+".db")

	db, err := sql.Open(store.SQLite.DriverName(), store.SQLiteDSN(path))
	require.NoError(t, err, "failed to open SQLite database")
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		require.NoError(t, err, "failed to ping SQLite database")
	}

	// The temporary directory and the file in it are removed by the
	// testing package.
	t.Cleanup(func() {
		assert.NoError(t, db.Close(), "failed to close SQLite database")
	})

	return db
}
