package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

// HeaderSweepKey carries the shared secret of external sweep triggers.
const HeaderSweepKey = "X-Sweep-Key"

// SweepAuth admits either a request presenting the sweep key, verified
// against keyHash, or an ADMIN bearer token. An empty keyHash disables key
// access.
func SweepAuth(secret, keyHash string) echo.MiddlewareFunc {
	admin := RequireRole(utils.RoleAdmin)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		viaToken := JWTAuth(secret)(admin(next))
		return func(c echo.Context) error {
			if key := c.Request().Header.Get(HeaderSweepKey); key != "" {
				if !utils.VerifyKey(keyHash, key) {
					return apperr.Unauthorized("invalid sweep key")
				}
				return next(c)
			}
			return viaToken(c)
		}
	}
}
