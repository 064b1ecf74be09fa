// Package repository defines error types that are reused across the store
// implementations.  These sentinel values allow higher layers such as the
// reservation service and handlers to distinguish between failure scenarios
// without knowing which storage driver is in use.
package repository

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting state, such as deleting a screening that still
// has tickets or shrinking it below the number of sold seats.
var ErrConflict = errors.New("conflict")

var (
	ErrScreeningNotFound    = errors.New("screening not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUsernameExists       = errors.New("username already exists")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrDuplicateReservation = errors.New("user already holds a ticket for this screening")
	ErrIdempotencyConflict  = errors.New("idempotency key already used for a different reservation")
)

// ErrTransient marks failures of the persistence layer (timeouts, lost
// connections, failed snapshot writes).  Nothing was mutated when it is
// returned, so the caller may retry.
var ErrTransient = errors.New("transient persistence failure")

// CapacityError reports a reservation that asked for more seats than the
// ledger currently holds.  It matches ErrInsufficientCapacity with errors.Is.
type CapacityError struct {
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: requested %d, available %d", e.Requested, e.Available)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrInsufficientCapacity
}

func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
