package api

import (
	echo "github.com/labstack/echo/v5"
)

// requestOperator identifies the human operator behind a request from
// auth-proxy headers. Phase overrides and cycle starts are attributed to
// this identity in the audit record.
// Priority: X-Forwarded-User > X-Forwarded-Email > X-Remote-User > "operator".
func requestOperator(c *echo.Context) string {
	for _, header := range []string{"X-Forwarded-User", "X-Forwarded-Email", "X-Remote-User"} {
		if id := c.Request().Header.Get(header); id != "" {
			return id
		}
	}
	return "operator"
}
