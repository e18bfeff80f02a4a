package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/handler"
	"github.com/iliyamo/cohort-pools/internal/middleware"
)

// MemberHandlers groups the handlers behind member authentication.
type MemberHandlers struct {
	Pools   *handler.PoolHandler
	Account *handler.AccountHandler
	Chat    *handler.ChatHandler
}

// RegisterMember registers member endpoints under /v1/me.  All routes
// require a valid JWT; admins may call them too.  The token bucket runs
// after authentication so that per-user keys see the subject.
func RegisterMember(e *echo.Echo, h MemberHandlers, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/me",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleUser, middleware.RoleAdmin),
		limit,
	)

	g.GET("/profile", h.Account.GetProfile)
	g.PUT("/profile", h.Account.PutProfile)

	g.GET("/credits", h.Account.Balance)
	g.GET("/credits/history", h.Account.History)
	g.POST("/credits/purchase", h.Account.Purchase)

	g.POST("/pools/:id/join", h.Pools.Join)
	g.GET("/pools/:id/matches", h.Pools.Matches)

	g.GET("/matches", h.Chat.Matches)
	g.GET("/conversations/:id", h.Chat.Conversation)
	g.POST("/conversations/:id/continue", h.Chat.Continue)

	g.POST("/blocks", h.Chat.Block)
	g.DELETE("/blocks/:user_id", h.Chat.Unblock)
}
