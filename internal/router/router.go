// Package router registers the HTTP routes of the pool API.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cohort-pools/internal/handler"
)

// RegisterRoutes registers routes that need no authentication and are
// never rate limited.
func RegisterRoutes(e *echo.Echo, db *sql.DB, rdb *redis.Client) {
	e.GET("/healthz", handler.Health(db, rdb))
}

// RegisterPublic registers the unauthenticated pool browse endpoints.
// Responses go through the response cache; pool counters may lag by the
// cache TTL.
func RegisterPublic(e *echo.Echo, p *handler.PoolHandler, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1/pools", limit, cache)
	g.GET("/current", p.Current)
	g.GET("/:id", p.Get)
}
