package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/magiclink-auth/internal/service"
)

// RequireRole returns a middleware function that enforces that the
// authenticated principal has one of the specified roles.  A request with no
// principal is answered 401, never 403, so it must run after Authenticate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := service.Authorize(PrincipalFrom(c.Request().Context()), roles...)
			switch {
			case errors.Is(err, service.ErrUnauthorized):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			case errors.Is(err, service.ErrForbidden):
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
