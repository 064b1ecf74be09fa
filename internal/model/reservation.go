package model

import "time"

// Reservation records the outcome of a committed reservation keyed by the
// caller-supplied idempotency key.  A retried request carrying the same key
// is answered from this record instead of issuing a second set of tickets.
//
// Fields:
//  UserID         – user who made the reservation.
//  IdempotencyKey – caller-supplied key, unique per user.
//  ScreeningID    – screening the tickets were issued for.
//  Quantity       – number of seats requested.
//  TicketIDs      – ids of the issued tickets, ascending.
//  AvailableAfter – ledger value right after the commit.
//  CreatedAt      – commit timestamp.
type Reservation struct {
	UserID         uint64    `json:"userId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	ScreeningID    uint64    `json:"screeningId"`
	Quantity       int       `json:"quantity"`
	TicketIDs      []uint64  `json:"ticketIds"`
	AvailableAfter int       `json:"availableAfter"`
	CreatedAt      time.Time `json:"createdAt"`
}
