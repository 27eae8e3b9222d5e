// Package router registers the HTTP routes of the auth service.
package router

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
	"github.com/iliyamo/magiclink-auth/internal/handler"
	"github.com/iliyamo/magiclink-auth/internal/middleware"
	"github.com/iliyamo/magiclink-auth/internal/model"
	"github.com/iliyamo/magiclink-auth/internal/ratelimit"
)

// Guards are the middleware chains shared by route groups.
type Guards struct {
	Authenticate echo.MiddlewareFunc
	DefaultLimit echo.MiddlewareFunc
	StrictLimit  echo.MiddlewareFunc
	APIKey       echo.MiddlewareFunc
}

// NewGuards builds the guards from configuration.  limiter may be nil when
// rate limiting is disabled.
func NewGuards(cfg config.Config, authn middleware.Authenticator, limiter *ratelimit.Limiter, log *zap.Logger) Guards {
	def, strict := ratelimit.ProfilesFrom(cfg.RateLimit)
	return Guards{
		Authenticate: middleware.Authenticate(authn, log),
		DefaultLimit: middleware.RateLimit(cfg.RateLimit, limiter, def, log),
		StrictLimit:  middleware.RateLimit(cfg.RateLimit, limiter, strict, log),
		APIKey:       middleware.RequireAPIKey(cfg.InternalAPIKeyHash, log),
	}
}

// RegisterRoutes registers routes that do not require authentication:
// liveness and readiness checks.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers the login flow under /auth and the session routes
// under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, g Guards) {
	auth := e.Group("/auth")
	// Link requests are the enumeration and mail-bombing target.
	auth.POST("/login", a.Login, g.StrictLimit)
	auth.GET("/verify/:token", a.Verify, g.DefaultLimit)
	auth.POST("/refresh", a.Refresh, g.DefaultLimit)
	auth.POST("/logout", a.Logout, g.DefaultLimit)

	v1 := e.Group("/v1", g.DefaultLimit, g.Authenticate)
	v1.GET("/me", a.Me)
	v1.POST("/logout-all", a.LogoutAll)
}

// RegisterMaintenance exposes the purge tasks twice: to the external job
// runner behind the internal API key, and to admins.
func RegisterMaintenance(e *echo.Echo, m *handler.MaintenanceHandler, g Guards) {
	e.POST("/internal/maintenance/purge", m.Purge, g.DefaultLimit, g.APIKey)

	admin := e.Group("/v1/admin", g.DefaultLimit, g.Authenticate, middleware.RequireRole(model.RoleAdmin))
	admin.POST("/maintenance/purge", m.Purge)
}
