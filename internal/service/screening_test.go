package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-tickets/internal/catalog"
	"github.com/iliyamo/cinema-tickets/internal/repository"
)

type fakeCatalog struct {
	movies map[uint64]catalog.Movie
	calls  atomic.Int32
}

func (f *fakeCatalog) Get(_ context.Context, id uint64) (catalog.Movie, error) {
	f.calls.Add(1)
	m, ok := f.movies[id]
	if !ok {
		return catalog.Movie{}, catalog.ErrUnavailable
	}
	return m, nil
}

func newScreeningFixture(t *testing.T, movies *fakeCatalog) (*ScreeningService, *ReservationService, *recordingNotifier) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	n := &recordingNotifier{}
	var mc MovieCatalog
	if movies != nil {
		mc = movies
	}
	return NewScreeningService(store, mc, n, log), NewReservationService(store, n, log), n
}

func TestCreateScreeningValidation(t *testing.T) {
	svc, _, _ := newScreeningFixture(t, nil)
	start := time.Now().Add(24 * time.Hour)

	cases := []struct {
		name string
		in   CreateScreeningInput
		kind Kind
	}{
		{"missing movie", CreateScreeningInput{StartTime: start, TotalSeats: 10}, KindInvalidRequest},
		{"missing start", CreateScreeningInput{MovieID: 1, TotalSeats: 10}, KindInvalidRequest},
		{"zero seats", CreateScreeningInput{MovieID: 1, StartTime: start}, KindInvalidRequest},
		{"too many seats", CreateScreeningInput{MovieID: 1, StartTime: start, TotalSeats: 10001}, KindInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), manager(), tc.in)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}

	_, err := svc.Create(context.Background(), user(1), CreateScreeningInput{MovieID: 1, StartTime: start, TotalSeats: 10})
	assert.Equal(t, KindForbidden, KindOf(err))
	_, err = svc.Create(context.Background(), nil, CreateScreeningInput{MovieID: 1, StartTime: start, TotalSeats: 10})
	assert.Equal(t, KindUnauthorized, KindOf(err))

	sc, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: 1, StartTime: start, TotalSeats: 10})
	require.NoError(t, err)
	assert.NotZero(t, sc.ID)
	assert.Equal(t, 10, sc.AvailableSeats)
}

func TestListScreeningsEnrichesFromCatalog(t *testing.T) {
	movies := &fakeCatalog{movies: map[uint64]catalog.Movie{
		603: {ID: 603, Title: "The Matrix", PosterPath: "/matrix.jpg"},
	}}
	svc, _, _ := newScreeningFixture(t, movies)
	start := time.Now().Add(time.Hour)
	for _, id := range []uint64{603, 603, 42} {
		_, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: id, StartTime: start, TotalSeats: 5})
		require.NoError(t, err)
		start = start.Add(time.Hour)
	}

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "The Matrix", list[0].Title)
	assert.Equal(t, "/matrix.jpg", list[1].PosterPath)
	assert.Empty(t, list[2].Title)
	assert.Equal(t, int32(2), movies.calls.Load(), "one lookup per distinct movie")

	one, err := svc.Get(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", one.Title)

	_, err = svc.Get(context.Background(), 9999)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateScreeningCannotUndercutSales(t *testing.T) {
	svc, res, n := newScreeningFixture(t, nil)
	sc, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: 1, StartTime: time.Now().Add(time.Hour), TotalSeats: 10})
	require.NoError(t, err)
	_, err = res.Reserve(context.Background(), user(1), ReserveInput{ScreeningID: sc.ID, Quantity: 4})
	require.NoError(t, err)

	three := 3
	_, err = svc.Update(context.Background(), manager(), sc.ID, UpdateScreeningInput{TotalSeats: &three})
	assert.Equal(t, KindConflict, KindOf(err))

	twenty := 20
	got, err := svc.Update(context.Background(), manager(), sc.ID, UpdateScreeningInput{TotalSeats: &twenty})
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalSeats)
	assert.Equal(t, 16, got.AvailableSeats)

	events := n.published()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 16, last.AvailableSeats)
	assert.Equal(t, 20, last.TotalSeats)

	_, err = svc.Update(context.Background(), manager(), sc.ID, UpdateScreeningInput{})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	_, err = svc.Update(context.Background(), user(1), sc.ID, UpdateScreeningInput{TotalSeats: &twenty})
	assert.Equal(t, KindForbidden, KindOf(err))
	_, err = svc.Update(context.Background(), manager(), 9999, UpdateScreeningInput{TotalSeats: &twenty})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateScreeningReschedules(t *testing.T) {
	svc, _, _ := newScreeningFixture(t, nil)
	sc, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: 1, StartTime: time.Now().Add(time.Hour), TotalSeats: 10})
	require.NoError(t, err)

	later := sc.StartTime.Add(2 * time.Hour)
	got, err := svc.Update(context.Background(), manager(), sc.ID, UpdateScreeningInput{StartTime: &later})
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(later))
	assert.Equal(t, 10, got.TotalSeats)
}

func TestDeleteScreening(t *testing.T) {
	svc, res, _ := newScreeningFixture(t, nil)
	start := time.Now().Add(time.Hour)
	sold, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: 1, StartTime: start, TotalSeats: 10})
	require.NoError(t, err)
	empty, err := svc.Create(context.Background(), manager(), CreateScreeningInput{MovieID: 2, StartTime: start, TotalSeats: 10})
	require.NoError(t, err)
	_, err = res.Reserve(context.Background(), user(1), ReserveInput{ScreeningID: sold.ID, Quantity: 1})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), manager(), sold.ID)
	assert.Equal(t, KindConflict, KindOf(err))

	require.NoError(t, svc.Delete(context.Background(), manager(), empty.ID))
	_, err = svc.Get(context.Background(), empty.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	err = svc.Delete(context.Background(), user(1), sold.ID)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{&repository.CapacityError{Requested: 3, Available: 1}, KindInsufficientCapacity},
		{repository.ErrScreeningNotFound, KindNotFound},
		{repository.ErrTicketNotFound, KindNotFound},
		{repository.ErrDuplicateReservation, KindDuplicateReservation},
		{repository.ErrIdempotencyConflict, KindIdempotencyConflict},
		{repository.ErrUsernameExists, KindConflict},
		{repository.ErrConflict, KindConflict},
		{repository.ErrTransient, KindTransient},
		{context.DeadlineExceeded, KindTransient},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, classify(tc.err).Kind, "%v", tc.err)
	}
	assert.Nil(t, classify(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
