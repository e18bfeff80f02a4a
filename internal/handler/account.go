package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/service"
)

// AccountHandler serves the caller's profile and credits.
type AccountHandler struct {
	Profiles *service.Profiles
	Credits  *service.Credits
	Log      *slog.Logger
	Now      func() time.Time
}

// NewAccountHandler panics when a service is missing.
func NewAccountHandler(s *service.Services, log *slog.Logger) *AccountHandler {
	if s == nil || s.Profiles == nil || s.Credits == nil {
		panic("nil service passed to NewAccountHandler")
	}
	return &AccountHandler{Profiles: s.Profiles, Credits: s.Credits, Log: log, Now: time.Now}
}

type profileRequest struct {
	Name      string   `json:"name"`
	Gender    string   `json:"gender"`
	Age       int      `json:"age"`
	BirthDate string   `json:"birth_date"`
	Interests []string `json:"interests"`
	City      string   `json:"city"`
}

// GetProfile returns the caller's profile.
func (h *AccountHandler) GetProfile(c echo.Context) error {
	p, err := h.Profiles.Get(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, profileView(p, h.Now()))
}

// PutProfile creates or replaces the caller's profile.
func (h *AccountHandler) PutProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := h.Profiles.Upsert(c.Request().Context(), middleware.UserID(c), service.ProfileInput{
		Name:      req.Name,
		Gender:    req.Gender,
		Age:       req.Age,
		BirthDate: req.BirthDate,
		Interests: req.Interests,
		City:      req.City,
	})
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, profileView(p, h.Now()))
}

// Balance returns the caller's credit balance.
func (h *AccountHandler) Balance(c echo.Context) error {
	bal, err := h.Credits.Balance(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": bal})
}

// History returns the caller's recent ledger entries.
func (h *AccountHandler) History(c echo.Context) error {
	entries, err := h.Credits.History(c.Request().Context(), middleware.UserID(c), queryLimit(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": ledgerViews(entries)})
}

// Purchase adds credits to the caller's balance.
func (h *AccountHandler) Purchase(c echo.Context) error {
	var req struct {
		Amount int `json:"amount"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.Credits.Purchase(c.Request().Context(), middleware.UserID(c), req.Amount)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, res)
}
