package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-tickets/internal/repository"
)

// Kind classifies a failed request.  Handlers map kinds to HTTP statuses;
// the string form is what clients see in the error body.
type Kind string

const (
	KindUnauthorized         Kind = "Unauthorized"
	KindForbidden            Kind = "Forbidden"
	KindNotFound             Kind = "NotFound"
	KindInvalidQuantity      Kind = "InvalidQuantity"
	KindInvalidRequest       Kind = "InvalidRequest"
	KindInsufficientCapacity Kind = "InsufficientCapacity"
	KindDuplicateReservation Kind = "DuplicateReservation"
	KindIdempotencyConflict  Kind = "IdempotencyConflict"
	KindConflict             Kind = "Conflict"
	KindTransient            Kind = "TransientPersistenceFailure"
	KindInternal             Kind = "Internal"
)

// Error is the typed failure returned by every service operation.
// AvailableSeats is set for InsufficientCapacity.
type Error struct {
	Kind           Kind
	Message        string
	AvailableSeats *int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed when sent again
// unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// classify turns a store error into a service Error.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var ce *repository.CapacityError
	switch {
	case errors.As(err, &ce):
		avail := ce.Available
		return &Error{
			Kind:           KindInsufficientCapacity,
			Message:        fmt.Sprintf("only %d seats available", ce.Available),
			AvailableSeats: &avail,
			Err:            err,
		}
	case errors.Is(err, repository.ErrScreeningNotFound):
		return &Error{Kind: KindNotFound, Message: "screening not found", Err: err}
	case errors.Is(err, repository.ErrTicketNotFound):
		return &Error{Kind: KindNotFound, Message: "ticket not found", Err: err}
	case errors.Is(err, repository.ErrUserNotFound):
		return &Error{Kind: KindNotFound, Message: "user not found", Err: err}
	case errors.Is(err, repository.ErrDuplicateReservation):
		return &Error{Kind: KindDuplicateReservation, Message: "you already hold a ticket for this screening", Err: err}
	case errors.Is(err, repository.ErrIdempotencyConflict):
		return &Error{Kind: KindIdempotencyConflict, Message: "idempotency key was already used for a different request", Err: err}
	case errors.Is(err, repository.ErrUsernameExists):
		return &Error{Kind: KindConflict, Message: "username already exists", Err: err}
	case errors.Is(err, repository.ErrConflict):
		return &Error{Kind: KindConflict, Message: err.Error(), Err: err}
	case errors.Is(err, repository.ErrForbidden):
		return &Error{Kind: KindForbidden, Message: "forbidden", Err: err}
	case errors.Is(err, repository.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &Error{Kind: KindTransient, Message: "storage did not acknowledge in time, retry", Err: err}
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
