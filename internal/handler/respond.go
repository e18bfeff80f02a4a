package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/middleware"
)

// fail writes err as a JSON error.  Typed service errors keep their
// message and metadata; anything else is logged and reported as an
// internal error without detail.
func fail(c echo.Context, log *slog.Logger, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		log.Error("unhandled error", "error", err, "path", c.Path(), "user_id", middleware.UserID(c))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": apperr.KindInternal})
	}
	status := ae.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err, "kind", ae.Kind, "path", c.Path(), "user_id", middleware.UserID(c))
	}
	msg := ae.Message
	if ae.Kind == apperr.KindInternal {
		msg = "internal error"
	}
	body := echo.Map{"error": msg, "code": ae.Kind}
	for k, v := range ae.Meta {
		body[k] = v
	}
	if v, ok := ae.Meta["retry_after"]; ok {
		c.Response().Header().Set("Retry-After", v)
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": apperr.KindValidation})
}

// pathID parses a numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// queryLimit parses ?limit, returning 0 when absent or invalid so the
// service default applies.
func queryLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
