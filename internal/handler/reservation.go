package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/service"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

// ReservationHandler exposes ticket purchase and cancellation.
type ReservationHandler struct {
	svc *service.ReservationService
}

func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

type reserveReq struct {
	ScreeningID    uint64 `json:"screeningId"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Reserve handles POST /reserve.  A replayed request answers 200 with the
// original tickets; a fresh one 201.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ScreeningID == 0 {
		return badRequest(c, "screeningId is required")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if hk := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey)); hk != "" {
		if key != "" && key != hk {
			return badRequest(c, "idempotency key in header and body differ")
		}
		key = hk
	}

	res, err := h.svc.Reserve(c.Request().Context(), principal(c), service.ReserveInput{
		ScreeningID:    req.ScreeningID,
		Quantity:       req.Quantity,
		IdempotencyKey: key,
	})
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusCreated
	if res.Replayed {
		c.Response().Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

// MyTickets handles GET /my-tickets.
func (h *ReservationHandler) MyTickets(c echo.Context) error {
	tickets, err := h.svc.MyTickets(c.Request().Context(), principal(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tickets)
}

// Cancel handles DELETE /tickets/:id.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid ticket id")
	}
	res, err := h.svc.Cancel(c.Request().Context(), principal(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ScreeningTickets handles GET /screenings/:id/tickets.
func (h *ReservationHandler) ScreeningTickets(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid screening id")
	}
	tickets, err := h.svc.ScreeningTickets(c.Request().Context(), principal(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tickets)
}
