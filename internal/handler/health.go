package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Health reports liveness and whether the database answers.  Redis is
// optional, so a missing or failing Redis only degrades the report.
func Health(db *sql.DB, rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		out := echo.Map{"status": "ok", "database": "ok", "redis": "disabled"}
		if err := db.PingContext(ctx); err != nil {
			out["status"], out["database"] = "unavailable", "down"
			return c.JSON(http.StatusServiceUnavailable, out)
		}
		if rdb != nil {
			out["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				out["status"], out["redis"] = "degraded", "down"
			}
		}
		return c.JSON(http.StatusOK, out)
	}
}
