// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrStaleRequest indicates that the request was already claimed or
	// advanced by another worker. It is recovered locally and the request
	// is skipped for the current sweep.
	ErrStaleRequest ErrorCode = iota

	// ErrInsufficientFunds indicates that the eligible total is below the
	// target of a specific payment. It is a normal outcome, not a fault.
	ErrInsufficientFunds

	// ErrDuplicateCredit indicates that a ledger entry already exists for
	// the request. The poster treats it as a successful no-op.
	ErrDuplicateCredit

	// ErrWatcherUnavailable indicates a transient failure talking to the
	// chain watcher. When this error code is set, Err holds the
	// underlying error.
	ErrWatcherUnavailable

	// ErrDatastoreUnavailable indicates a transient failure talking to the
	// datastore. When this error code is set, Err holds the underlying
	// error.
	ErrDatastoreUnavailable

	// ErrNotificationFailure indicates that a notification could not be
	// delivered. It never rolls back reconciliation work.
	ErrNotificationFailure

	// ErrIllegalTransition indicates an attempt to move a request along
	// an edge that is not part of the lifecycle.
	ErrIllegalTransition

	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrStaleRequest:         "ErrStaleRequest",
	ErrInsufficientFunds:    "ErrInsufficientFunds",
	ErrDuplicateCredit:      "ErrDuplicateCredit",
	ErrWatcherUnavailable:   "ErrWatcherUnavailable",
	ErrDatastoreUnavailable: "ErrDatastoreUnavailable",
	ErrNotificationFailure:  "ErrNotificationFailure",
	ErrIllegalTransition:    "ErrIllegalTransition",
	ErrNotFound:             "ErrNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors raised while reconciling deposits.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// depositError creates an Error given a set of arguments.
func depositError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// NewError creates an Error given a set of arguments. It is exported for the
// collaborators (store, chain, notify) that classify their own failures.
func NewError(c ErrorCode, desc string, err error) Error {
	return depositError(c, desc, err)
}

// IsError returns whether err, or any error it wraps, is an Error with the
// given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrorCode == code
}
