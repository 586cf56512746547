// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

// The two schemas only differ in column types. The UNIQUE constraint on
// ledger_entries.request_id is what makes crediting exactly-once, in both.
const (
	postgresSchema = `
		CREATE TABLE IF NOT EXISTS deposit_requests (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			amount NUMERIC(20, 8) NOT NULL CHECK (amount >= 0),
			notify_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			address TEXT UNIQUE,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS deposit_requests_status_idx
			ON deposit_requests (status, id);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			request_id BIGINT NOT NULL UNIQUE
				REFERENCES deposit_requests (id),
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			amount NUMERIC(20, 8) NOT NULL,
			token TEXT NOT NULL,
			memo TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`

	sqliteSchema = `
		CREATE TABLE IF NOT EXISTS deposit_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			amount TEXT NOT NULL,
			notify_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			address TEXT UNIQUE,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS deposit_requests_status_idx
			ON deposit_requests (status, id);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			request_id INTEGER NOT NULL UNIQUE
				REFERENCES deposit_requests (id),
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			amount TEXT NOT NULL,
			token TEXT NOT NULL,
			memo TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`
)

// Statements shared by both dialects. Both drivers accept $N placeholders.
const (
	requestColumns = `id, owner_id, amount, notify_ref, status, address,
		version, created_at, updated_at`

	insertRequestSQL = `
		INSERT INTO deposit_requests
			(owner_id, amount, notify_ref, status, version,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING ` + requestColumns

	selectRequestSQL = `SELECT ` + requestColumns + `
		FROM deposit_requests WHERE id = $1`

	selectByStatusSQL = `SELECT ` + requestColumns + `
		FROM deposit_requests WHERE status = $1
		ORDER BY id LIMIT $2`

	countByStatusSQL = `SELECT status, COUNT(*) FROM deposit_requests
		GROUP BY status`

	assignAddressSQL = `
		UPDATE deposit_requests
		SET status = $1, address = $2, version = version + 1,
			updated_at = $3
		WHERE id = $4 AND status = $5 AND address IS NULL`

	advanceStatusSQL = `
		UPDATE deposit_requests
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4`

	insertLedgerEntrySQL = `
		INSERT INTO ledger_entries
			(id, request_id, src, dst, amount, token, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectLedgerEntrySQL = `
		SELECT id, request_id, src, dst, amount, token, memo, created_at
		FROM ledger_entries WHERE request_id = $1`

	countLedgerEntriesSQL = `
		SELECT COUNT(*) FROM ledger_entries WHERE request_id = $1`
)
