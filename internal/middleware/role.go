package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
)

// RequireRole lets the request through only when JWTAuth stored one of
// roles in the context.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return apperr.Forbidden("role %q may not call this endpoint", Role(c))
			}
			return next(c)
		}
	}
}
