package repository

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-tickets/internal/model"
)

// Store is the authoritative storage for screenings, tickets and users.
// Every mutation of a screening's seats goes through WithScreening so the
// store can keep the ticket count and the ledger in step.
type Store interface {
	ScreeningReader
	TicketReader
	UserStore

	// CreateScreening inserts a screening with all seats available and
	// assigns its id.
	CreateScreening(ctx context.Context, s *model.Screening) error

	// WithScreening runs fn inside the exclusion scope of one screening.
	// Calls for the same screening are serialized; calls for different
	// screenings do not block each other.  When fn returns nil every
	// change staged through tx is committed as one unit, otherwise none
	// of them is.  ErrScreeningNotFound is returned without calling fn
	// when the screening does not exist.
	WithScreening(ctx context.Context, screeningID uint64, fn func(tx ScreeningTx) error) error

	Close() error
}

type ScreeningReader interface {
	GetScreening(ctx context.Context, id uint64) (model.Screening, error)
	ListScreenings(ctx context.Context) ([]model.Screening, error)
}

type TicketReader interface {
	GetTicket(ctx context.Context, id uint64) (model.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID uint64) ([]model.Ticket, error)
	ListTicketsByScreening(ctx context.Context, screeningID uint64) ([]model.Ticket, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	GetUserByID(ctx context.Context, id uint64) (model.User, error)
}

// ScreeningTx is the view of one locked screening handed to WithScreening
// callbacks.  Reads observe the committed state plus the changes staged
// earlier in the same callback.
type ScreeningTx interface {
	Ledger
	TicketIssuer

	// Screening returns the screening as staged so far.
	Screening() model.Screening
	// Update reschedules and resizes the screening.  Available seats move
	// by the capacity delta; ErrConflict when totalSeats < sold seats.
	Update(startTime time.Time, totalSeats int) error
	// Delete removes the screening; ErrConflict while tickets exist.
	Delete() error
}

// Ledger is the seat counter of the locked screening.
type Ledger interface {
	// Reserve takes quantity seats and returns the remaining count, or a
	// *CapacityError when quantity exceeds the available seats.
	Reserve(quantity int) (int, error)
	// Release returns one seat per ticket id and records a release for
	// each of them.  Ids that were already released are skipped.
	Release(ticketIDs ...uint64) (int, error)
}

// TicketIssuer manages the ticket rows and idempotency records of the
// locked screening.
type TicketIssuer interface {
	Issue(userID uint64, quantity int) ([]model.Ticket, error)
	HasTicket(userID uint64) (bool, error)
	Ticket(id uint64) (model.Ticket, error)
	Cancel(ticketID uint64) error
	FindReservation(userID uint64, key string) (*model.Reservation, error)
	SaveReservation(r model.Reservation) error
}
