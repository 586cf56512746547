// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists deposit requests and ledger entries in Postgres or
// SQLite.
//
// Every status change is a compare-and-set on the current status, so two
// workers racing on the same request can never both succeed. Crediting is
// guarded by the UNIQUE constraint on ledger_entries.request_id, which is
// the only mechanism that survives restarts and concurrent processes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend.
type Dialect uint8

const (
	// Postgres is the production backend.
	Postgres Dialect = iota

	// SQLite is the embedded backend used for development and tests.
	SQLite
)

// String returns the name of the dialect.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// ParseDialect maps a configuration or driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unknown database driver %q", name)
	}
}

// SQLiteDSN returns a DSN for the database file at path with foreign keys
// enforced and a busy timeout set.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Store is a deposit request and ledger store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect

	// now returns the current time. Tests replace it.
	now func() time.Time
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
}

// Open opens a connection pool for the given dialect and DSN.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %v database: %w", dialect, err)
	}

	switch dialect {
	// SQLite serializes writers anyway. A single connection turns lock
	// contention into queueing instead of SQLITE_BUSY errors.
	case SQLite:
		db.SetMaxOpenConns(1)

	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(30 * time.Second)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %v database: %w", dialect, err)
	}

	log.Infof("Opened %v datastore", dialect)

	return New(db, dialect), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == SQLite {
		schema = sqliteSchema
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return mapError("apply schema", err)
	}

	log.Debugf("Applied %v schema", s.dialect)
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRequest reads a request in requestColumns order.
func scanRequest(row rowScanner) (*deposit.Request, error) {
	var (
		req     deposit.Request
		status  string
		address sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.OwnerID, &req.Amount, &req.NotifyRef, &status,
		&address, &req.Version, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status, err = deposit.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	req.Address = fn.None[string]()
	if address.Valid {
		req.Address = fn.Some(address.String)
	}

	return &req, nil
}

// withTx runs f inside a transaction. The transaction is committed if f
// returns nil and rolled back otherwise, so a cancelled context never leaves
// a partial write behind.
func (s *Store) withTx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil &&
			rbErr != sql.ErrTxDone {

			log.Warnf("Unable to roll back transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// CreateRequest inserts a new pending request. Intake normally happens
// outside this system; the method exists for tooling and tests. The amount
// must be a whole number of satoshis within the money supply, so every
// backend stores it exactly.
func (s *Store) CreateRequest(ctx context.Context, ownerID int64,
	amount decimal.Decimal, notifyRef string) (*deposit.Request, error) {

	if _, err := deposit.DecimalToAmount(amount); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := s.db.QueryRowContext(
		ctx, insertRequestSQL, ownerID, amount, notifyRef,
		deposit.StatusPending.String(), now, now,
	)
	req, err := scanRequest(row)
	if err != nil {
		return nil, mapError("insert request", err)
	}

	return req, nil
}

// Request fetches a single request.
func (s *Store) Request(ctx context.Context, id int64) (*deposit.Request,
	error) {

	req, err := scanRequest(s.db.QueryRowContext(ctx, selectRequestSQL, id))
	if err != nil {
		return nil, mapError(fmt.Sprintf("select request %d", id), err)
	}
	return req, nil
}

// RequestsByStatus returns up to limit requests in the given status, oldest
// first.
func (s *Store) RequestsByStatus(ctx context.Context, status deposit.Status,
	limit int) ([]*deposit.Request, error) {

	rows, err := s.db.QueryContext(
		ctx, selectByStatusSQL, status.String(), limit,
	)
	if err != nil {
		return nil, mapError("select requests by status", err)
	}
	defer rows.Close()

	var reqs []*deposit.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, mapError("scan request", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate requests", err)
	}

	return reqs, nil
}

// CountByStatus returns the number of requests in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[deposit.Status]int64,
	error) {

	rows, err := s.db.QueryContext(ctx, countByStatusSQL)
	if err != nil {
		return nil, mapError("count requests", err)
	}
	defer rows.Close()

	counts := make(map[deposit.Status]int64)
	for rows.Next() {
		var (
			str   string
			count int64
		)
		if err := rows.Scan(&str, &count); err != nil {
			return nil, mapError("scan count", err)
		}

		status, err := deposit.ParseStatus(str)
		if err != nil {
			return nil, err
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate counts", err)
	}

	return counts, nil
}

// advance performs a status compare-and-set inside tx. It fails with
// ErrStaleRequest if the request is no longer in status from, and with
// ErrNotFound if it does not exist at all.
func (s *Store) advance(ctx context.Context, tx *sql.Tx, id int64,
	res sql.Result) error {

	n, err := res.RowsAffected()
	if err != nil {
		return mapError("rows affected", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(
		ctx, `SELECT status FROM deposit_requests WHERE id = $1`, id,
	).Scan(&status)
	if err != nil {
		return mapError(fmt.Sprintf("select request %d", id), err)
	}

	str := fmt.Sprintf("request %d is already %s", id, status)
	return deposit.NewError(deposit.ErrStaleRequest, str, nil)
}

// AssignAddress atomically records the receiving address of a pending
// request and moves it to assigned. Exactly one of several concurrent callers
// succeeds; the others get ErrStaleRequest.
func (s *Store) AssignAddress(ctx context.Context, id int64,
	address string) (*deposit.Request, error) {

	err := deposit.Transition(deposit.StatusPending, deposit.StatusAssigned)
	if err != nil {
		return nil, err
	}

	var req *deposit.Request
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, assignAddressSQL, deposit.StatusAssigned.String(),
			address, s.now().UTC(), id,
			deposit.StatusPending.String(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("address %s is already "+
					"assigned to another request", address)
			}
			return mapError("assign address", err)
		}

		if err := s.advance(ctx, tx, id, res); err != nil {
			return err
		}

		req, err = scanRequest(
			tx.QueryRowContext(ctx, selectRequestSQL, id),
		)
		return mapError("select assigned request", err)
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Assigned address %s to request %d", address, id)

	return req, nil
}

// MarkWaiting moves an assigned request to waiting once its address is
// observed by the watcher.
func (s *Store) MarkWaiting(ctx context.Context, id int64) error {
	return s.transition(ctx, id, deposit.StatusAssigned,
		deposit.StatusWaiting)
}

// transition moves a request along a single lifecycle edge.
func (s *Store) transition(ctx context.Context, id int64, from,
	to deposit.Status) error {

	if err := deposit.Transition(from, to); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, advanceStatusSQL, to.String(), s.now().UTC(), id,
			from.String(),
		)
		if err != nil {
			return mapError("update status", err)
		}
		return s.advance(ctx, tx, id, res)
	})
}

// CompleteWithCredit writes the ledger entry of a waiting request and marks
// it completed, in one transaction. If an entry for the request already
// exists the transaction is rolled back and ErrDuplicateCredit is returned.
func (s *Store) CompleteWithCredit(ctx context.Context,
	entry *deposit.LedgerEntry) error {

	err := deposit.Transition(deposit.StatusWaiting, deposit.StatusCompleted)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, insertLedgerEntrySQL, entry.ID, entry.RequestID,
			entry.Source, entry.Destination, entry.Amount,
			entry.Token, entry.Memo, entry.CreatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				str := fmt.Sprintf("request %d already "+
					"credited", entry.RequestID)
				return deposit.NewError(
					deposit.ErrDuplicateCredit, str, err,
				)
			}
			return mapError("insert ledger entry", err)
		}

		res, err := tx.ExecContext(
			ctx, advanceStatusSQL,
			deposit.StatusCompleted.String(), s.now().UTC(),
			entry.RequestID, deposit.StatusWaiting.String(),
		)
		if err != nil {
			return mapError("complete request", err)
		}
		return s.advance(ctx, tx, entry.RequestID, res)
	})
}

// LedgerEntry returns the ledger entry of a request.
func (s *Store) LedgerEntry(ctx context.Context,
	requestID int64) (*deposit.LedgerEntry, error) {

	var entry deposit.LedgerEntry
	err := s.db.QueryRowContext(ctx, selectLedgerEntrySQL, requestID).Scan(
		&entry.ID, &entry.RequestID, &entry.Source, &entry.Destination,
		&entry.Amount, &entry.Token, &entry.Memo, &entry.CreatedAt,
	)
	if err != nil {
		str := fmt.Sprintf("select ledger entry of request %d",
			requestID)
		return nil, mapError(str, err)
	}

	return &entry, nil
}

// CountLedgerEntries returns how many ledger entries reference a request.
// The schema guarantees it is at most one.
func (s *Store) CountLedgerEntries(ctx context.Context,
	requestID int64) (int64, error) {

	var n int64
	err := s.db.QueryRowContext(
		ctx, countLedgerEntriesSQL, requestID,
	).Scan(&n)
	if err != nil {
		return 0, mapError("count ledger entries", err)
	}
	return n, nil
}
