// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// LedgerSource is the source account of every deposit credit.
	LedgerSource = "s1input"

	// LedgerToken is the token column of every deposit credit.
	LedgerToken = "BTC"

	// destinationPrefix prefixes every derived user account.
	destinationPrefix = "u1"
)

// LedgerEntry is the single accounting credit that completes a request. The
// datastore enforces at most one entry per RequestID.
type LedgerEntry struct {
	// ID uniquely identifies the entry.
	ID uuid.UUID

	// RequestID references the completed request.
	RequestID int64

	// Source is the account the funds are moved from.
	Source string

	// Destination is the user account credited, see DestinationAccount.
	Destination string

	// Amount is the credited amount in BTC.
	Amount decimal.Decimal

	// Token is the currency of the credit.
	Token string

	// Memo is a human readable description of the credit.
	Memo string

	// CreatedAt is the time the entry was written.
	CreatedAt time.Time
}

// DestinationAccount derives the ledger account of a user. The mapping is a
// SHA-256 of the big-endian user id, so it is stable and can never be chosen
// by the user.
func DestinationAccount(ownerID int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ownerID))
	sum := sha256.Sum256(buf[:])

	return destinationPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// NewLedgerEntry builds the credit for a request that received amount.
func NewLedgerEntry(req *Request, amount decimal.Decimal,
	now time.Time) *LedgerEntry {

	return &LedgerEntry{
		ID:          uuid.New(),
		RequestID:   req.ID,
		Source:      LedgerSource,
		Destination: DestinationAccount(req.OwnerID),
		Amount:      amount,
		Token:       LedgerToken,
		Memo: fmt.Sprintf("Receiving BTC operation=%d (by btcdeposit)",
			req.ID),
		CreatedAt: now,
	}
}
