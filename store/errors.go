// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pgUniqueViolation is the SQLSTATE postgres reports for a violated unique
// constraint.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation on
// either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE,
			sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:

			return true
		}
	}

	return false
}

// mapError classifies a database error. Missing rows become ErrNotFound,
// cancellation is passed through untouched and everything else is treated
// as a transient datastore failure.
func mapError(desc string, err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, sql.ErrNoRows):
		return deposit.NewError(deposit.ErrNotFound, desc, err)

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):

		return err
	}

	var depErr deposit.Error
	if errors.As(err, &depErr) {
		return err
	}

	return deposit.NewError(deposit.ErrDatastoreUnavailable, desc, err)
}
