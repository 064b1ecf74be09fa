package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/catalog"
	"github.com/iliyamo/cinema-tickets/internal/middleware"
	"github.com/iliyamo/cinema-tickets/internal/model"
	"github.com/iliyamo/cinema-tickets/internal/repository"
	"github.com/iliyamo/cinema-tickets/internal/service"
)

func TestStatusFor(t *testing.T) {
	cases := map[service.Kind]int{
		service.KindUnauthorized:         http.StatusUnauthorized,
		service.KindForbidden:            http.StatusForbidden,
		service.KindNotFound:             http.StatusNotFound,
		service.KindInvalidQuantity:      http.StatusBadRequest,
		service.KindInvalidRequest:       http.StatusBadRequest,
		service.KindInsufficientCapacity: http.StatusConflict,
		service.KindDuplicateReservation: http.StatusConflict,
		service.KindIdempotencyConflict:  http.StatusConflict,
		service.KindConflict:             http.StatusConflict,
		service.KindTransient:            http.StatusServiceUnavailable,
		service.KindInternal:             http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusFor(kind), string(kind))
	}
}

func TestWriteError(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	avail := 2
	require.NoError(t, writeError(c, &service.Error{Kind: service.KindInsufficientCapacity, Message: "only 2 seats available", AvailableSeats: &avail}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"kind":"InsufficientCapacity","message":"only 2 seats available","availableSeats":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, writeError(c, errors.New("db exploded")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"kind":"Internal","message":"internal error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, writeError(c, fmt.Errorf("%w: lost connection", repository.ErrTransient)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

// env is a small API over a memory store with a fixed principal.
type env struct {
	e     *echo.Echo
	store *repository.MemoryStore
	p     *auth.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	res := NewReservationHandler(service.NewReservationService(store, nil, log))
	scr := NewScreeningHandler(service.NewScreeningService(store, nil, nil, log))

	en := &env{e: echo.New(), store: store}
	setPrincipal := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if en.p != nil {
				middleware.SetPrincipal(c, *en.p)
			}
			return next(c)
		}
	}
	en.e.Use(setPrincipal)
	en.e.POST("/reserve", res.Reserve)
	en.e.GET("/my-tickets", res.MyTickets)
	en.e.DELETE("/tickets/:id", res.Cancel)
	en.e.GET("/screenings/:id/tickets", res.ScreeningTickets)
	en.e.GET("/screenings", scr.List)
	en.e.GET("/screenings/:id", scr.Get)
	en.e.POST("/screenings", scr.Create)
	en.e.PUT("/screenings/:id", scr.Update)
	en.e.DELETE("/screenings/:id", scr.Delete)
	return en
}

func (en *env) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	en.e.ServeHTTP(rec, req)
	return rec
}

func (en *env) screening(t *testing.T, seats int) uint64 {
	t.Helper()
	sc := model.Screening{MovieID: 1, StartTime: time.Now().Add(time.Hour), TotalSeats: seats}
	require.NoError(t, en.store.CreateScreening(context.Background(), &sc))
	return sc.ID
}

func TestReserveEndpoint(t *testing.T) {
	en := newEnv(t)
	id := en.screening(t, 5)
	en.p = &auth.Principal{UserID: 1, Role: model.RoleUser}

	rec := en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":3}`, id), HeaderIdempotencyKey, "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res struct {
		TicketIDs      []uint64 `json:"ticketIds"`
		AvailableSeats int      `json:"availableSeats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.TicketIDs, 3)
	assert.Equal(t, 2, res.AvailableSeats)

	replay := en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":3,"idempotencyKey":"abc"}`, id))
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rec.Body.String(), replay.Body.String())

	mismatch := en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":1,"idempotencyKey":"x"}`, id), HeaderIdempotencyKey, "y")
	assert.Equal(t, http.StatusBadRequest, mismatch.Code)

	other := &auth.Principal{UserID: 2, Role: model.RoleUser}
	en.p = other
	full := en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":3}`, id))
	assert.Equal(t, http.StatusConflict, full.Code)
	assert.JSONEq(t, `{"kind":"InsufficientCapacity","message":"only 2 seats available","availableSeats":2}`, full.Body.String())
}

func TestReserveEndpointValidation(t *testing.T) {
	en := newEnv(t)
	id := en.screening(t, 5)
	en.p = &auth.Principal{UserID: 1, Role: model.RoleUser}

	cases := []struct {
		body   string
		status int
		kind   string
	}{
		{`{"screeningId":` + fmt.Sprint(id) + `,"quantity":0}`, http.StatusBadRequest, "InvalidQuantity"},
		{`{"screeningId":` + fmt.Sprint(id) + `,"quantity":-2}`, http.StatusBadRequest, "InvalidQuantity"},
		{`{"screeningId":9999,"quantity":1}`, http.StatusNotFound, "NotFound"},
		{`{"quantity":1}`, http.StatusBadRequest, "InvalidRequest"},
		{`{"screeningId":"x"}`, http.StatusBadRequest, "InvalidRequest"},
	}
	for _, tc := range cases {
		rec := en.do(http.MethodPost, "/reserve", tc.body)
		assert.Equal(t, tc.status, rec.Code, tc.body)
		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, string(body.Kind), tc.body)
	}

	en.p = nil
	assert.Equal(t, http.StatusUnauthorized, en.do(http.MethodPost, "/reserve", `{"screeningId":1,"quantity":1}`).Code)
}

func TestCancelEndpoint(t *testing.T) {
	en := newEnv(t)
	id := en.screening(t, 5)
	en.p = &auth.Principal{UserID: 1, Role: model.RoleUser}
	rec := en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":1}`, id))
	require.Equal(t, http.StatusCreated, rec.Code)

	tickets := en.do(http.MethodGet, "/my-tickets", "")
	require.Equal(t, http.StatusOK, tickets.Code)
	var views []struct {
		ID        uint64 `json:"id"`
		Screening struct {
			ID uint64 `json:"id"`
		} `json:"screening"`
	}
	require.NoError(t, json.Unmarshal(tickets.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].Screening.ID)

	path := fmt.Sprintf("/tickets/%d", views[0].ID)
	ok := en.do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Contains(t, ok.Body.String(), `"availableSeats":5`)
	assert.Equal(t, http.StatusNotFound, en.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, en.do(http.MethodDelete, "/tickets/abc", "").Code)
}

func TestScreeningEndpoints(t *testing.T) {
	en := newEnv(t)
	en.p = &auth.Principal{UserID: 9, Role: model.RoleManager}

	start := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	rec := en.do(http.MethodPost, "/screenings", `{"movieId":603,"startTime":"`+start+`","totalSeats":8}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sc model.Screening
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.Equal(t, 8, sc.AvailableSeats)

	path := fmt.Sprintf("/screenings/%d", sc.ID)
	upd := en.do(http.MethodPut, path, `{"totalSeats":12}`)
	require.Equal(t, http.StatusOK, upd.Code)
	assert.Contains(t, upd.Body.String(), `"availableSeats":12`)

	en.p = &auth.Principal{UserID: 1, Role: model.RoleUser}
	assert.Equal(t, http.StatusForbidden, en.do(http.MethodDelete, path, "").Code)
	require.Equal(t, http.StatusCreated, en.do(http.MethodPost, "/reserve", fmt.Sprintf(`{"screeningId":%d,"quantity":2}`, sc.ID)).Code)

	en.p = &auth.Principal{UserID: 9, Role: model.RoleManager}
	assert.Equal(t, http.StatusConflict, en.do(http.MethodPut, path, `{"totalSeats":1}`).Code)
	assert.Equal(t, http.StatusConflict, en.do(http.MethodDelete, path, "").Code)

	list := en.do(http.MethodGet, path+"/tickets", "")
	require.Equal(t, http.StatusOK, list.Code)
	var tickets []model.Ticket
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &tickets))
	assert.Len(t, tickets, 2)

	assert.Equal(t, http.StatusOK, en.do(http.MethodGet, "/screenings", "").Code)
	assert.Equal(t, http.StatusNotFound, en.do(http.MethodGet, "/screenings/9999", "").Code)
	assert.Equal(t, http.StatusBadRequest, en.do(http.MethodGet, "/screenings/0", "").Code)
}

type stubMovies struct {
	movies []catalog.Movie
	err    error
	page   int
}

func (s *stubMovies) NowPlaying(_ context.Context, page int) ([]catalog.Movie, error) {
	s.page = page
	return s.movies, s.err
}

func TestMoviesEndpoint(t *testing.T) {
	stub := &stubMovies{movies: []catalog.Movie{{ID: 603, Title: "The Matrix"}}}
	e := echo.New()
	e.GET("/movies", NewMovieHandler(stub).NowPlaying)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies?page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, stub.page)
	assert.Contains(t, rec.Body.String(), `"movies":[{"id":603,"title":"The Matrix"`)

	stub.err = catalog.ErrUnavailable
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies?page=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
