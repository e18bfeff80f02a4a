package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "" when the request is
// anonymous.
func UserID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// Role returns the authenticated role, or "" when the request is
// anonymous.
func Role(c echo.Context) string {
	if v, ok := c.Get(ctxRole).(string); ok {
		return v
	}
	return ""
}

// rateSubject identifies the caller for rate-limit and cache keys.
func rateSubject(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
