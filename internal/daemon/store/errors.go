// internal/daemon/store/errors.go
package store

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for simple checks.
var (
	ErrNotFound  = errors.New("resource not found")
	ErrLeaseLost = errors.New("ledger lease lost")
)

// NotFoundError is returned when a dispatch group is not in the ledger.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// LeaseHeldError is returned when another owner holds the ledger lease.
type LeaseHeldError struct {
	Key       string
	Owner     string
	ExpiresAt time.Time
}

func (e *LeaseHeldError) Error() string {
	return fmt.Sprintf("ledger %q is owned by %s until %s", e.Key, e.Owner, e.ExpiresAt.Format(time.RFC3339))
}

// IsLeaseHeld returns true if err is a LeaseHeldError.
func IsLeaseHeld(err error) bool {
	var lh *LeaseHeldError
	return errors.As(err, &lh)
}

// CorruptLedgerError is returned when the persisted ledger cannot be decoded.
type CorruptLedgerError struct {
	Key string
	Err error
}

func (e *CorruptLedgerError) Error() string {
	return fmt.Sprintf("ledger %q is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptLedgerError) Unwrap() error {
	return e.Err
}
