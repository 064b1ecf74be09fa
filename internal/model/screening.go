package model

import "time"

// Screening represents a scheduled showing of a movie with a fixed seat
// capacity.  AvailableSeats is owned by the seat ledger: it only goes down
// through committed reservations and only goes up through cancellations.
//
// Fields:
//  ID             – primary key identifier, immutable.
//  MovieID        – catalog id of the movie being shown.
//  StartTime      – when the screening begins (UTC).
//  TotalSeats     – capacity fixed at creation (managers may resize).
//  AvailableSeats – seats not yet covered by a ticket.
//  Version        – bumped by every committed seat or schedule change.
type Screening struct {
	ID             uint64    `json:"id"`
	MovieID        uint64    `json:"movieId"`
	StartTime      time.Time `json:"startTime"`
	TotalSeats     int       `json:"totalSeats"`
	AvailableSeats int       `json:"availableSeats"`
	Version        uint64    `json:"version"`
}

// Sold returns the number of seats covered by tickets.
func (s Screening) Sold() int {
	return s.TotalSeats - s.AvailableSeats
}

// Started reports whether the screening has begun at the given instant.
func (s Screening) Started(now time.Time) bool {
	return !s.StartTime.After(now)
}
