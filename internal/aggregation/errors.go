package aggregation

import (
	"fmt"

	"token-rollup/internal/domain"
)

// MalformedEventError is returned when a transfer log is missing a required
// field or carries an impossible value. No state is mutated for such an event.
type MalformedEventError struct {
	TxHash   string
	LogIndex uint32
	Field    string
	Reason   string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %s/%d: %s: %s", e.TxHash, e.LogIndex, e.Field, e.Reason)
}

// StorageFaultError wraps the first store failure hit while applying an event.
// The event's writes are discarded with the enclosing atomic commit.
type StorageFaultError struct {
	Op  string
	Err error
}

func (e *StorageFaultError) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFaultError) Unwrap() error {
	return e.Err
}

func fault(op string, err error) error {
	return &StorageFaultError{Op: op, Err: err}
}

// ViolationKind classifies an advisory invariant violation.
type ViolationKind string

const (
	// ViolationNegativeBalance is reported when a balance drops below zero.
	ViolationNegativeBalance ViolationKind = "negative_balance"
	// ViolationNegativeHolderCount is reported when currentHolderCount drops below zero.
	ViolationNegativeHolderCount ViolationKind = "negative_holder_count"
)

// Violation is an advisory invariant breach. It is reported alongside a
// successful result and never aborts processing.
type Violation struct {
	Kind     ViolationKind
	Token    string
	Account  string // empty for token-level violations
	Value    string
	Position domain.Position
}

func (v Violation) String() string {
	if v.Account == "" {
		return fmt.Sprintf("%s: token=%s value=%s block=%d log=%d",
			v.Kind, v.Token, v.Value, v.Position.BlockNumber, v.Position.LogIndex)
	}
	return fmt.Sprintf("%s: token=%s account=%s value=%s block=%d log=%d",
		v.Kind, v.Token, v.Account, v.Value, v.Position.BlockNumber, v.Position.LogIndex)
}
