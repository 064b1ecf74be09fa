package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/catalog"
	"github.com/iliyamo/cinema-tickets/internal/logging"
	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/notify"
	"github.com/iliyamo/cinema-tickets/internal/repository"
)

const (
	maxScreeningSeats = 10000
	enrichTimeout     = 2 * time.Second
)

// MovieCatalog looks up display data for a movie.  Errors are expected and
// only mean the screening is shown without a title.
type MovieCatalog interface {
	Get(ctx context.Context, movieID uint64) (catalog.Movie, error)
}

// ScreeningView is a screening with best-effort catalog data.
type ScreeningView struct {
	model.Screening
	Title      string `json:"title,omitempty"`
	PosterPath string `json:"poster_path,omitempty"`
}

// CreateScreeningInput is the manager's request to schedule a screening.
type CreateScreeningInput struct {
	MovieID    uint64
	StartTime  time.Time
	TotalSeats int
}

// UpdateScreeningInput changes the start time, the capacity, or both.
type UpdateScreeningInput struct {
	StartTime  *time.Time
	TotalSeats *int
}

// ScreeningService maintains the schedule.  Capacity changes run in the
// screening's scope like reservations do, so they can never undercut the
// seats already sold.
type ScreeningService struct {
	store    repository.Store
	catalog  MovieCatalog
	notifier notify.Notifier
	log      logrus.FieldLogger
}

// NewScreeningService wires the service.  movies and notifier may be nil.
func NewScreeningService(store repository.Store, movies MovieCatalog, notifier notify.Notifier, log logrus.FieldLogger) *ScreeningService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ScreeningService{store: store, catalog: movies, notifier: notifier, log: log}
}

func (s *ScreeningService) List(ctx context.Context) ([]ScreeningView, error) {
	list, err := s.store.ListScreenings(ctx)
	if err != nil {
		return nil, classify(err)
	}
	movies := make(map[uint64]catalog.Movie)
	out := make([]ScreeningView, 0, len(list))
	for _, sc := range list {
		out = append(out, s.enrich(ctx, sc, movies))
	}
	return out, nil
}

func (s *ScreeningService) Get(ctx context.Context, id uint64) (ScreeningView, error) {
	sc, err := s.store.GetScreening(ctx, id)
	if err != nil {
		return ScreeningView{}, classify(err)
	}
	return s.enrich(ctx, sc, nil), nil
}

// enrich adds catalog data; seen memoizes lookups within one listing.
func (s *ScreeningService) enrich(ctx context.Context, sc model.Screening, seen map[uint64]catalog.Movie) ScreeningView {
	v := ScreeningView{Screening: sc}
	if s.catalog == nil {
		return v
	}
	m, ok := seen[sc.MovieID]
	if !ok {
		cctx, cancel := context.WithTimeout(ctx, enrichTimeout)
		got, err := s.catalog.Get(cctx, sc.MovieID)
		cancel()
		if err != nil {
			logging.FromContext(ctx, s.log).WithError(err).WithField("movie_id", sc.MovieID).Debug("movie lookup failed")
		}
		m = got
		if seen != nil {
			seen[sc.MovieID] = m
		}
	}
	v.Title = m.Title
	v.PosterPath = m.PosterPath
	return v
}

func (s *ScreeningService) Create(ctx context.Context, p *auth.Principal, in CreateScreeningInput) (model.Screening, error) {
	if err := requireRole(p, model.RoleManager); err != nil {
		return model.Screening{}, err
	}
	switch {
	case in.MovieID == 0:
		return model.Screening{}, newError(KindInvalidRequest, "movieId is required")
	case in.StartTime.IsZero():
		return model.Screening{}, newError(KindInvalidRequest, "startTime is required")
	case in.TotalSeats < 1 || in.TotalSeats > maxScreeningSeats:
		return model.Screening{}, newError(KindInvalidRequest, "totalSeats must be between 1 and 10000")
	}
	sc := model.Screening{MovieID: in.MovieID, StartTime: in.StartTime, TotalSeats: in.TotalSeats}
	if err := s.store.CreateScreening(ctx, &sc); err != nil {
		return model.Screening{}, classify(err)
	}
	logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"screening_id": sc.ID,
		"movie_id":     sc.MovieID,
		"total_seats":  sc.TotalSeats,
	}).Info("screening created")
	return sc, nil
}

// Update reschedules or resizes a screening.  Shrinking below the sold
// seat count is a Conflict.  Subscribers are told about the new counts.
func (s *ScreeningService) Update(ctx context.Context, p *auth.Principal, id uint64, in UpdateScreeningInput) (model.Screening, error) {
	if err := requireRole(p, model.RoleManager); err != nil {
		return model.Screening{}, err
	}
	if in.StartTime == nil && in.TotalSeats == nil {
		return model.Screening{}, newError(KindInvalidRequest, "nothing to update")
	}
	if in.TotalSeats != nil && (*in.TotalSeats < 1 || *in.TotalSeats > maxScreeningSeats) {
		return model.Screening{}, newError(KindInvalidRequest, "totalSeats must be between 1 and 10000")
	}
	if in.StartTime != nil && in.StartTime.IsZero() {
		return model.Screening{}, newError(KindInvalidRequest, "startTime is invalid")
	}

	var after model.Screening
	err := s.store.WithScreening(ctx, id, func(tx repository.ScreeningTx) error {
		cur := tx.Screening()
		start, total := cur.StartTime, cur.TotalSeats
		if in.StartTime != nil {
			start = *in.StartTime
		}
		if in.TotalSeats != nil {
			total = *in.TotalSeats
		}
		if err := tx.Update(start, total); err != nil {
			return err
		}
		after = tx.Screening()
		return nil
	})
	if err != nil {
		return model.Screening{}, classify(err)
	}
	s.notifier.Publish(ctx, notify.SeatsChanged(after))
	logging.FromContext(ctx, s.log).WithField("screening_id", id).Info("screening updated")
	return after, nil
}

// Delete removes a screening that has no tickets.
func (s *ScreeningService) Delete(ctx context.Context, p *auth.Principal, id uint64) error {
	if err := requireRole(p, model.RoleManager); err != nil {
		return err
	}
	err := s.store.WithScreening(ctx, id, func(tx repository.ScreeningTx) error {
		return tx.Delete()
	})
	if err != nil {
		return classify(err)
	}
	logging.FromContext(ctx, s.log).WithField("screening_id", id).Info("screening deleted")
	return nil
}
