package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/service"
)

// PoolHandler serves pool browsing and admission.
type PoolHandler struct {
	Lifecycle   *service.Lifecycle
	Admission   *service.Admission
	Matchmaking *service.Matchmaking
	Log         *slog.Logger
}

// NewPoolHandler panics when a service is missing.
func NewPoolHandler(s *service.Services, log *slog.Logger) *PoolHandler {
	if s == nil || s.Lifecycle == nil || s.Admission == nil || s.Matchmaking == nil {
		panic("nil service passed to NewPoolHandler")
	}
	return &PoolHandler{Lifecycle: s.Lifecycle, Admission: s.Admission, Matchmaking: s.Matchmaking, Log: log}
}

// Current returns the joinable pool for ?city, creating one when the
// city has none.
func (h *PoolHandler) Current(c echo.Context) error {
	p, err := h.Lifecycle.Current(c.Request().Context(), c.QueryParam("city"))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, poolView(p))
}

// Get returns one pool.
func (h *PoolHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	p, err := h.Lifecycle.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, poolView(p))
}

// Join admits the caller into the pool.
func (h *PoolHandler) Join(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	res, err := h.Admission.Join(c.Request().Context(), middleware.UserID(c), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Matches lists the matches written for a pool.  Only the pool's own
// results are returned; no other member data is exposed.
func (h *PoolHandler) Matches(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	viewer := middleware.UserID(c)
	matches, err := h.Matchmaking.ListByPool(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := make([]MatchView, 0)
	for _, m := range matches {
		if m.UserA == viewer || m.UserB == viewer {
			out = append(out, matchView(m, viewer))
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}
