package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/service"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

// Authenticator resolves an access token to the current principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*service.Principal, error)
}

// Authenticate validates the bearer access token (header, or the "token"
// query parameter when the header is absent) and stores the principal in
// the request context.  Handlers read it with PrincipalFrom.
func Authenticate(auth Authenticator, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := utils.ExtractBearer(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			ctx := c.Request().Context()
			p, err := auth.Authenticate(ctx, raw)
			switch {
			case errors.Is(err, service.ErrUnauthorized):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			case errors.Is(err, service.ErrAccountDisabled):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrAccountDisabled.Error()})
			case err != nil:
				log.Error("authenticate failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			return next(c)
		}
	}
}
