package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-tickets/internal/catalog"
	"github.com/iliyamo/cinema-tickets/internal/logging"
)

// NowPlayingLister is the part of the catalog client used by /movies.
type NowPlayingLister interface {
	NowPlaying(ctx context.Context, page int) ([]catalog.Movie, error)
}

// MovieHandler proxies the movie catalog.
type MovieHandler struct {
	catalog NowPlayingLister
}

func NewMovieHandler(c NowPlayingLister) *MovieHandler {
	return &MovieHandler{catalog: c}
}

// NowPlaying handles GET /movies?page=N.
func (h *MovieHandler) NowPlaying(c echo.Context) error {
	page := 1
	if p := c.QueryParam("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return badRequest(c, "page must be a number")
		}
		page = n
	}
	movies, err := h.catalog.NowPlaying(c.Request().Context(), page)
	if err != nil {
		if !errors.Is(err, catalog.ErrUnavailable) {
			logging.FromContext(c.Request().Context(), nil).WithError(err).Warn("movie catalog failed")
		}
		return c.JSON(http.StatusBadGateway, echo.Map{"kind": "CatalogUnavailable", "message": "movie catalog unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"movies": movies})
}
