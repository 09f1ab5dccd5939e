package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders locks down responses that carry appointment data. HSTS is
// only sent once the request arrived over TLS, directly or via a proxy.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if c.Request().Method == http.MethodGet {
				// Slot listings go stale within seconds.
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}
