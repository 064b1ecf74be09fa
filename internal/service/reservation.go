package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/logging"
	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/notify"
	"github.com/iliyamo/cinema-tickets/internal/repository"
)

// State is a step of the reservation state machine.
type State string

const (
	StateReceived  State = "Received"
	StateValidated State = "Validated"
	StateCommitted State = "Committed"
	StateNotified  State = "Notified"
	StateRejected  State = "Rejected"
)

const (
	defaultMaxPerRequest = 10
	defaultCommitTimeout = 5 * time.Second
	maxIdempotencyKeyLen = 128
)

// ReserveInput is a reservation request.  IdempotencyKey is optional;
// when set, a retry with the same key returns the first result as long as
// its tickets were not cancelled since.
type ReserveInput struct {
	ScreeningID    uint64
	Quantity       int
	IdempotencyKey string
}

// ReserveResult is returned for committed (or replayed) reservations.
type ReserveResult struct {
	TicketIDs      []uint64 `json:"ticketIds"`
	AvailableSeats int      `json:"availableSeats"`
	Replayed       bool     `json:"-"`
	State          State    `json:"-"`
}

// CancelResult describes a cancelled ticket.
type CancelResult struct {
	TicketID       uint64 `json:"ticketId"`
	ScreeningID    uint64 `json:"screeningId"`
	AvailableSeats int    `json:"availableSeats"`
}

// TicketView is a ticket with a summary of its screening.  Screening is
// nil when the screening no longer exists.
type TicketView struct {
	model.Ticket
	Screening *model.Screening `json:"screening,omitempty"`
}

// ReservationService owns the link between issued tickets and seat
// availability.  Every mutation runs inside the store's per-screening
// scope; the notifier is called only after a commit succeeded.
type ReservationService struct {
	store         repository.Store
	notifier      notify.Notifier
	log           logrus.FieldLogger
	maxPerRequest int
	onePerUser    bool
	commitTimeout time.Duration
	now           func() time.Time
}

type Option func(*ReservationService)

// WithMaxPerRequest caps the seats a single request may take.
func WithMaxPerRequest(n int) Option {
	return func(s *ReservationService) {
		if n > 0 {
			s.maxPerRequest = n
		}
	}
}

// WithOnePerUser enables the at-most-one-reservation-per-screening rule.
func WithOnePerUser(on bool) Option {
	return func(s *ReservationService) { s.onePerUser = on }
}

// WithCommitTimeout bounds the time the store gets to acknowledge a
// commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *ReservationService) {
		if d > 0 {
			s.commitTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewReservationService(store repository.Store, notifier notify.Notifier, log logrus.FieldLogger, opts ...Option) *ReservationService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &ReservationService{
		store:         store,
		notifier:      notifier,
		log:           log,
		maxPerRequest: defaultMaxPerRequest,
		onePerUser:    true,
		commitTimeout: defaultCommitTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxPerRequest returns the configured per-request seat cap.
func (s *ReservationService) MaxPerRequest() int { return s.maxPerRequest }

// Reserve takes quantity seats of a screening for the caller.  Validation
// failures return before the store is touched.  Capacity and the duplicate
// rule are checked again inside the screening's scope together with the
// ledger decrement and ticket issue, so concurrent requests cannot both
// pass them.
func (s *ReservationService) Reserve(ctx context.Context, p *auth.Principal, in ReserveInput) (ReserveResult, error) {
	log := logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"screening_id": in.ScreeningID,
		"quantity":     in.Quantity,
	})
	res := ReserveResult{State: StateReceived}

	reject := func(err error) (ReserveResult, error) {
		se := classify(err)
		log.WithField("kind", se.Kind).WithError(se.Err).Info("reservation rejected")
		return ReserveResult{State: StateRejected}, se
	}

	switch auth.Authorize(p, model.RoleUser) {
	case auth.Unauthenticated:
		return reject(newError(KindUnauthorized, "authentication required"))
	case auth.Forbidden:
		return reject(newError(KindForbidden, "only users may reserve tickets"))
	}
	log = log.WithField("user_id", p.UserID)

	if in.Quantity < 1 || in.Quantity > s.maxPerRequest {
		return reject(&Error{Kind: KindInvalidQuantity, Message: "quantity must be between 1 and " + strconv.Itoa(s.maxPerRequest)})
	}
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return reject(newError(KindInvalidRequest, "idempotency key too long"))
	}
	if _, err := s.store.GetScreening(ctx, in.ScreeningID); err != nil {
		return reject(err)
	}
	res.State = StateValidated

	var after model.Screening
	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()
	err := s.store.WithScreening(commitCtx, in.ScreeningID, func(tx repository.ScreeningTx) error {
		if in.IdempotencyKey != "" {
			prev, err := tx.FindReservation(p.UserID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if prev != nil {
				if prev.ScreeningID != in.ScreeningID || prev.Quantity != in.Quantity {
					return repository.ErrIdempotencyConflict
				}
				for _, id := range prev.TicketIDs {
					if _, err := tx.Ticket(id); errors.Is(err, repository.ErrTicketNotFound) {
						return newError(KindConflict, "tickets of this reservation were cancelled")
					} else if err != nil {
						return err
					}
				}
				res.TicketIDs = prev.TicketIDs
				res.AvailableSeats = prev.AvailableAfter
				res.Replayed = true
				return nil
			}
		}
		if tx.Screening().Started(s.now()) {
			return newError(KindConflict, "screening has already started")
		}
		if s.onePerUser {
			has, err := tx.HasTicket(p.UserID)
			if err != nil {
				return err
			}
			if has {
				return repository.ErrDuplicateReservation
			}
		}
		avail, err := tx.Reserve(in.Quantity)
		if err != nil {
			return err
		}
		tickets, err := tx.Issue(p.UserID, in.Quantity)
		if err != nil {
			return err
		}
		ids := make([]uint64, len(tickets))
		for i, t := range tickets {
			ids[i] = t.ID
		}
		if in.IdempotencyKey != "" {
			if err := tx.SaveReservation(model.Reservation{
				UserID:         p.UserID,
				IdempotencyKey: in.IdempotencyKey,
				ScreeningID:    in.ScreeningID,
				Quantity:       in.Quantity,
				TicketIDs:      ids,
				AvailableAfter: avail,
				CreatedAt:      s.now(),
			}); err != nil {
				return err
			}
		}
		res.TicketIDs = ids
		res.AvailableSeats = avail
		after = tx.Screening()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = repository.ErrTransient
		}
		return reject(err)
	}
	res.State = StateCommitted

	if res.Replayed {
		log.WithField("idempotency_key", in.IdempotencyKey).Info("reservation replayed")
		return res, nil
	}
	s.notifier.Publish(ctx, notify.SeatsChanged(after))
	res.State = StateNotified
	log.WithFields(logrus.Fields{
		"ticket_ids":      res.TicketIDs,
		"available_seats": res.AvailableSeats,
	}).Info("reservation committed")
	return res, nil
}

// Cancel removes a ticket and returns its seat to the ledger.  Owners may
// cancel their own tickets, managers any ticket.  Tickets of screenings
// that already started cannot be cancelled.
func (s *ReservationService) Cancel(ctx context.Context, p *auth.Principal, ticketID uint64) (CancelResult, error) {
	log := logging.FromContext(ctx, s.log).WithField("ticket_id", ticketID)
	if auth.Authorize(p) != auth.Allow {
		return CancelResult{}, newError(KindUnauthorized, "authentication required")
	}
	tk, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return CancelResult{}, classify(err)
	}
	if tk.UserID != p.UserID && auth.Authorize(p, model.RoleManager) != auth.Allow {
		return CancelResult{}, newError(KindForbidden, "ticket belongs to another user")
	}

	var after model.Screening
	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()
	err = s.store.WithScreening(commitCtx, tk.ScreeningID, func(tx repository.ScreeningTx) error {
		if _, err := tx.Ticket(ticketID); err != nil {
			return err
		}
		if tx.Screening().Started(s.now()) {
			return newError(KindConflict, "screening has already started")
		}
		if err := tx.Cancel(ticketID); err != nil {
			return err
		}
		if _, err := tx.Release(ticketID); err != nil {
			return err
		}
		after = tx.Screening()
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrScreeningNotFound) {
			err = repository.ErrTicketNotFound
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = repository.ErrTransient
		}
		se := classify(err)
		log.WithField("kind", se.Kind).Info("cancellation rejected")
		return CancelResult{}, se
	}

	s.notifier.Publish(ctx, notify.SeatsChanged(after))
	log.WithFields(logrus.Fields{
		"screening_id":    after.ID,
		"available_seats": after.AvailableSeats,
	}).Info("ticket cancelled")
	return CancelResult{TicketID: ticketID, ScreeningID: after.ID, AvailableSeats: after.AvailableSeats}, nil
}

// MyTickets lists the caller's tickets with their screenings.
func (s *ReservationService) MyTickets(ctx context.Context, p *auth.Principal) ([]TicketView, error) {
	if auth.Authorize(p) != auth.Allow {
		return nil, newError(KindUnauthorized, "authentication required")
	}
	tickets, err := s.store.ListTicketsByUser(ctx, p.UserID)
	if err != nil {
		return nil, classify(err)
	}
	screenings := make(map[uint64]*model.Screening)
	out := make([]TicketView, 0, len(tickets))
	for _, t := range tickets {
		sc, seen := screenings[t.ScreeningID]
		if !seen {
			if got, err := s.store.GetScreening(ctx, t.ScreeningID); err == nil {
				sc = &got
			} else if !errors.Is(err, repository.ErrScreeningNotFound) {
				return nil, classify(err)
			}
			screenings[t.ScreeningID] = sc
		}
		out = append(out, TicketView{Ticket: t, Screening: sc})
	}
	return out, nil
}

// ScreeningTickets lists every ticket of a screening.  Managers only.
func (s *ReservationService) ScreeningTickets(ctx context.Context, p *auth.Principal, screeningID uint64) ([]model.Ticket, error) {
	if err := requireRole(p, model.RoleManager); err != nil {
		return nil, err
	}
	if _, err := s.store.GetScreening(ctx, screeningID); err != nil {
		return nil, classify(err)
	}
	tickets, err := s.store.ListTicketsByScreening(ctx, screeningID)
	if err != nil {
		return nil, classify(err)
	}
	return tickets, nil
}

// requireRole turns an authorization verdict into a service error.
func requireRole(p *auth.Principal, roles ...model.Role) error {
	switch auth.Authorize(p, roles...) {
	case auth.Unauthenticated:
		return newError(KindUnauthorized, "authentication required")
	case auth.Forbidden:
		return newError(KindForbidden, "insufficient role")
	}
	return nil
}
