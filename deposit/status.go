// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import "fmt"

// Status is the lifecycle state of a deposit request. The set of states is
// closed: a request is created Pending and only ever moves forward through
// Assigned and Waiting to Completed.
type Status uint8

const (
	// StatusPending is the state of a freshly created request that has no
	// receiving address yet.
	StatusPending Status = iota

	// StatusAssigned is the state of a request whose receiving address has
	// been persisted but not yet registered with the watcher.
	StatusAssigned

	// StatusWaiting is the state of a request whose address is being
	// observed. It self-loops until eligible funds show up.
	StatusWaiting

	// StatusCompleted is the terminal state. A request reaches it together
	// with its single ledger entry.
	StatusCompleted
)

// statusStrings maps each status to the value stored in the datastore.
var statusStrings = map[Status]string{
	StatusPending:   "pending",
	StatusAssigned:  "assigned",
	StatusWaiting:   "waiting",
	StatusCompleted: "completed",
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusAssigned, StatusWaiting, StatusCompleted,
	}
}

// String returns the datastore representation of the status.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// ParseStatus converts the datastore representation back into a Status.
func ParseStatus(s string) (Status, error) {
	for status, str := range statusStrings {
		if str == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown deposit status %q", s)
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// legalTransitions lists every allowed edge of the lifecycle.
var legalTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned},
	StatusAssigned: {StatusWaiting},
	StatusWaiting:  {StatusWaiting, StatusCompleted},
}

// Transition validates the move from one status to another. It is the only
// place the lifecycle edges are defined; every status write in the store goes
// through it.
func Transition(from, to Status) error {
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}

	str := fmt.Sprintf("illegal transition %v -> %v", from, to)
	return depositError(ErrIllegalTransition, str, nil)
}
