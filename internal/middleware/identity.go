package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/magiclink-auth/internal/service"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Authenticate, or nil.
func PrincipalFrom(ctx context.Context) *service.Principal {
	p, _ := ctx.Value(principalKey{}).(*service.Principal)
	return p
}

// userID returns the authenticated subject of the request, or "anon".
func userID(c echo.Context) string {
	if p := PrincipalFrom(c.Request().Context()); p != nil && p.UserID != "" {
		return p.UserID
	}
	return "anon"
}
