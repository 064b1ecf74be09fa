package model

import "time"

// Ticket is a single reserved seat owned by one user for one screening.
// Tickets are issued in batches by a reservation; ids are strictly
// increasing across the whole store.
type Ticket struct {
	ID          uint64    `json:"id"`
	ScreeningID uint64    `json:"screeningId"`
	UserID      uint64    `json:"userId"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// TicketRelease is the compensation record written when a ticket is
// cancelled.  It is keyed by ticket id so a seat is returned to the ledger
// at most once per ticket.
type TicketRelease struct {
	TicketID    uint64    `json:"ticketId"`
	ScreeningID uint64    `json:"screeningId"`
	ReleasedAt  time.Time `json:"releasedAt"`
}
