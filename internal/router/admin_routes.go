package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/handler"
	"github.com/iliyamo/cohort-pools/internal/middleware"
)

// RegisterAdmin registers operator endpoints under /v1/admin.  All
// routes require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)

	// ---- Pools ----
	g.POST("/pools", a.CreatePool)
	g.GET("/pools/:id", a.InspectPool)
	g.PUT("/pools/:id/status", a.UpdatePoolStatus)
	g.POST("/pools/:id/refunds", a.RefundPool)
	g.POST("/pools/:id/force-complete", a.ForceComplete)
	g.POST("/pools/:id/fast-forward", a.FastForward)
	g.POST("/pools/:id/matchmaking", a.RunMatchmaking)
	g.POST("/pools/:id/promote", a.Promote)
	g.POST("/dummies", a.AddDummy)

	// ---- Sweeps and audits ----
	g.POST("/lifecycle/checks", a.LifecycleChecks)
	g.GET("/invariants", a.VerifyInvariants)

	// ---- Users ----
	g.PUT("/users/:user_id/restriction", a.ApplyRestriction)
	g.DELETE("/users/:user_id/restriction", a.RestoreAccess)
	g.GET("/users/:user_id/ledger", a.UserLedger)
	g.GET("/users/:user_id/safety-events", a.SafetyEvents)

	// ---- Conversations ----
	g.POST("/conversations/:id/expire", a.ExpireConversation)
}
