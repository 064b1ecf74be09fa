// Package notify fans seat-count changes out to live subscribers.  All
// transports share one event schema; delivery is best-effort and
// subscribers are expected to poll the screening endpoint for ground truth.
package notify

import "github.com/iliyamo/cinema-tickets/internal/model"

// TypeUpdateSeats is the only event type published today.
const TypeUpdateSeats = "updateSeats"

// Event is the wire schema shared by every transport.  Version is the
// screening's version after the change; publishes may overtake each
// other, so subscribers keep the event with the highest version.
type Event struct {
	Type           string `json:"type"`
	ScreeningID    uint64 `json:"screeningId"`
	AvailableSeats int    `json:"availableSeats"`
	TotalSeats     int    `json:"totalSeats"`
	Version        uint64 `json:"version"`
}

// SeatsChanged builds the event for the committed state of s.
func SeatsChanged(s model.Screening) Event {
	return Event{
		Type:           TypeUpdateSeats,
		ScreeningID:    s.ID,
		AvailableSeats: s.AvailableSeats,
		TotalSeats:     s.TotalSeats,
		Version:        s.Version,
	}
}
