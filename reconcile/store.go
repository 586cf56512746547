// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package reconcile

import (
	"context"

	"github.com/btcsuite/btcdeposit/deposit"
)

// Store is the persistence the reconciliation loop needs. It is implemented
// by store.Store.
type Store interface {
	// RequestsByStatus returns up to limit requests in the given status,
	// oldest first.
	RequestsByStatus(ctx context.Context, status deposit.Status,
		limit int) ([]*deposit.Request, error)

	// Request fetches a single request.
	Request(ctx context.Context, id int64) (*deposit.Request, error)

	// CountByStatus returns the number of requests in each status.
	CountByStatus(ctx context.Context) (map[deposit.Status]int64, error)

	// AssignAddress moves a pending request to assigned, recording its
	// address. It fails with ErrStaleRequest if the request is no longer
	// pending.
	AssignAddress(ctx context.Context, id int64,
		address string) (*deposit.Request, error)

	// MarkWaiting moves an assigned request to waiting.
	MarkWaiting(ctx context.Context, id int64) error

	// CompleteWithCredit records the ledger entry and completes the
	// request atomically. It fails with ErrDuplicateCredit if the request
	// was already credited.
	CompleteWithCredit(ctx context.Context, entry *deposit.LedgerEntry) error
}
