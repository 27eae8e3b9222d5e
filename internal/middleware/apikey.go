package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/utils"
)

// apiKeyHeader carries the internal API key.  The api_key query parameter is
// read only when the header is absent.
const apiKeyHeader = "X-API-Key"

// RequireAPIKey guards internal routes with a shared key whose bcrypt hash
// is configured.  With no hash configured every request is refused.
func RequireAPIKey(hash string, log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hash == "" {
				log.Warn("internal route called but no API key hash is configured")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid api key"})
			}
			var key string
			if vals, present := c.Request().Header[http.CanonicalHeaderKey(apiKeyHeader)]; present {
				if len(vals) > 0 {
					key = vals[0]
				}
			} else {
				key = c.QueryParam("api_key")
			}
			if !utils.VerifySecret(hash, key) {
				log.Info("internal route: invalid api key", zap.String("ip", c.RealIP()))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid api key"})
			}
			return next(c)
		}
	}
}
