package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/service"
)

// AdminHandler serves the operator endpoints.  Every route is mounted
// behind RequireRole(ADMIN) and the caller's subject is recorded as the
// actor of each override.
type AdminHandler struct {
	svc *service.Services
	log *slog.Logger
}

// NewAdminHandler panics when s is nil.
func NewAdminHandler(s *service.Services, log *slog.Logger) *AdminHandler {
	if s == nil {
		panic("nil services passed to NewAdminHandler")
	}
	return &AdminHandler{svc: s, log: log}
}

// CreatePool returns the city's open pool, creating it when needed.
func (h *AdminHandler) CreatePool(c echo.Context) error {
	var req struct {
		City string `json:"city"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, created, err := h.svc.Lifecycle.CreatePoolIfNotExists(c.Request().Context(), req.City)
	if err != nil {
		return fail(c, h.log, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"pool_id": p.ID, "created": created, "pool": adminPoolView(p)})
}

// InspectPool returns a pool with its stored membership tallies.
func (h *AdminHandler) InspectPool(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	in, err := h.svc.Lifecycle.InspectPool(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"pool":        adminPoolView(in.Pool),
		"memberships": membershipCounts(in.Memberships),
		"matches":     in.Matches,
	})
}

// UpdatePoolStatus moves a pool along its state machine.
func (h *AdminHandler) UpdatePoolStatus(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	status, err := model.ParsePoolStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		return badRequest(c, "invalid status")
	}
	if err := h.svc.Lifecycle.UpdatePoolStatus(c.Request().Context(), id, status, middleware.UserID(c)); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"pool_id": id, "status": status.String()})
}

// RefundPool re-runs the refund for a cancelled pool.
func (h *AdminHandler) RefundPool(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	res, err := h.svc.Credits.RefundCancelledPool(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ForceComplete completes a pool without matching.
func (h *AdminHandler) ForceComplete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.svc.Lifecycle.ForceCompletePool(c.Request().Context(), id, middleware.UserID(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// FastForward expires a pool's deadlines and runs the sweeps.
func (h *AdminHandler) FastForward(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	var req struct {
		Target string `json:"target"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	target, err := model.ParsePoolStatus(strings.ToLower(strings.TrimSpace(req.Target)))
	if err != nil {
		return badRequest(c, "invalid target stage")
	}
	res, err := h.svc.Lifecycle.FastForwardPool(c.Request().Context(), id, target)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RunMatchmaking matches a validating pool now.
func (h *AdminHandler) RunMatchmaking(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	res, err := h.svc.Matchmaking.Run(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Promote runs the buffer promotion for a pool.
func (h *AdminHandler) Promote(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid pool id")
	}
	res, err := h.svc.Zipper.Promote(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AddDummy admits a synthetic member.
func (h *AdminHandler) AddDummy(c echo.Context) error {
	var req struct {
		City   string `json:"city"`
		Gender string `json:"gender"`
		PoolID uint64 `json:"pool_id"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.svc.Admission.AddDummyUser(c.Request().Context(), req.City, req.Gender, req.PoolID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// LifecycleChecks runs the close and matchmaking sweeps now.
func (h *AdminHandler) LifecycleChecks(c echo.Context) error {
	res, err := h.svc.Lifecycle.TriggerLifecycleChecks(c.Request().Context())
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// VerifyInvariants audits stored state.  A report with violations is
// still a 200; the body says what is wrong.
func (h *AdminHandler) VerifyInvariants(c echo.Context) error {
	rep, err := h.svc.Invariants.Verify(c.Request().Context())
	if err != nil {
		return fail(c, h.log, err)
	}
	if rep.Violations == nil {
		rep.Violations = []service.Violation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": rep.OK(), "report": rep})
}

// ApplyRestriction limits or blocks a user.  duration_hours of zero
// means the restriction does not expire.
func (h *AdminHandler) ApplyRestriction(c echo.Context) error {
	var req struct {
		Level         string `json:"level"`
		Reason        string `json:"reason"`
		DurationHours int    `json:"duration_hours"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	level, err := model.ParseRestrictionLevel(strings.ToLower(strings.TrimSpace(req.Level)))
	if err != nil {
		return badRequest(c, "invalid restriction level")
	}
	if req.DurationHours < 0 {
		return badRequest(c, "duration_hours must not be negative")
	}
	userID := c.Param("user_id")
	d := time.Duration(req.DurationHours) * time.Hour
	if err := h.svc.Safety.ApplyRestriction(c.Request().Context(), middleware.UserID(c), userID, level, req.Reason, d); err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": userID, "restriction_level": level.String()})
}

// RestoreAccess clears a user's restriction.
func (h *AdminHandler) RestoreAccess(c echo.Context) error {
	userID := c.Param("user_id")
	reason := strings.TrimSpace(c.QueryParam("reason"))
	if err := h.svc.Safety.RestoreAccess(c.Request().Context(), middleware.UserID(c), userID, reason); err != nil {
		return fail(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UserLedger returns a user's balance and recent ledger entries.
func (h *AdminHandler) UserLedger(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("user_id")
	bal, err := h.svc.Credits.Balance(ctx, userID)
	if err != nil {
		return fail(c, h.log, err)
	}
	entries, err := h.svc.Credits.History(ctx, userID, queryLimit(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": userID, "balance": bal, "items": ledgerViews(entries)})
}

// SafetyEvents returns a user's recent safety events.
func (h *AdminHandler) SafetyEvents(c echo.Context) error {
	events, err := h.svc.Safety.Events(c.Request().Context(), c.Param("user_id"), queryLimit(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": safetyEventViews(events)})
}

// ExpireConversation ends a conversation immediately.
func (h *AdminHandler) ExpireConversation(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid conversation id")
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := h.svc.Conversations.ForceExpire(c.Request().Context(), middleware.UserID(c), id, req.Reason); err != nil {
		return fail(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
