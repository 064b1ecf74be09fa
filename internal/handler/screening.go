package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/service"
)

// ScreeningHandler serves the public schedule and the manager's CRUD.
type ScreeningHandler struct {
	svc *service.ScreeningService
}

func NewScreeningHandler(svc *service.ScreeningService) *ScreeningHandler {
	return &ScreeningHandler{svc: svc}
}

type createScreeningReq struct {
	MovieID    uint64    `json:"movieId"`
	StartTime  time.Time `json:"startTime"`
	TotalSeats int       `json:"totalSeats"`
}

type updateScreeningReq struct {
	StartTime  *time.Time `json:"startTime"`
	TotalSeats *int       `json:"totalSeats"`
}

// List handles GET /screenings.
func (h *ScreeningHandler) List(c echo.Context) error {
	list, err := h.svc.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /screenings/:id.
func (h *ScreeningHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Create handles POST /screenings.
func (h *ScreeningHandler) Create(c echo.Context) error {
	var req createScreeningReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	sc, err := h.svc.Create(c.Request().Context(), principal(c), service.CreateScreeningInput{
		MovieID:    req.MovieID,
		StartTime:  req.StartTime,
		TotalSeats: req.TotalSeats,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sc)
}

// Update handles PUT /screenings/:id.
func (h *ScreeningHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	var req updateScreeningReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	sc, err := h.svc.Update(c.Request().Context(), principal(c), id, service.UpdateScreeningInput{
		StartTime:  req.StartTime,
		TotalSeats: req.TotalSeats,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sc)
}

// Delete handles DELETE /screenings/:id.
func (h *ScreeningHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	if err := h.svc.Delete(c.Request().Context(), principal(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
