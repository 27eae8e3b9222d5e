package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/middleware"
	"github.com/iliyamo/magiclink-auth/internal/service"
)

// AuthFlow is the part of service.AuthService the HTTP layer drives.
type AuthFlow interface {
	RequestLogin(ctx context.Context, email string, meta service.ClientMeta) error
	CompleteLogin(ctx context.Context, token string, meta service.ClientMeta) (*service.Session, error)
	Refresh(ctx context.Context, refreshToken string, meta service.ClientMeta) (*service.Session, error)
	Logout(ctx context.Context, refreshToken string, meta service.ClientMeta) error
	LogoutAll(ctx context.Context, p *service.Principal, meta service.ClientMeta) (int64, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth AuthFlow
	Log  *zap.Logger
}

func NewAuthHandler(a AuthFlow, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: a, Log: log}
}

// loginSentMessage is returned for every well-formed login request.
const loginSentMessage = "If the address belongs to an account, a sign-in link has been sent."

// ----- DTOs -----

type loginReq struct {
	Email string `json:"email"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	Role      string `json:"role"`
}
type authResp struct {
	TokenType string    `json:"token_type"`
	User      userPart  `json:"user"`
	Access    tokenPart `json:"access"`
	Refresh   tokenPart `json:"refresh"`
}

func sessionResp(s *service.Session) authResp {
	return authResp{
		TokenType: "Bearer",
		User:      userPart{ID: s.User.ID, Email: s.User.Email, FirstName: s.User.FirstName, Role: s.User.Role},
		Access:    tokenPart{Token: s.AccessToken, Expires: s.AccessExpiresAt},
		Refresh:   tokenPart{Token: s.RefreshToken, Expires: s.RefreshExpiresAt},
	}
}

// clientMeta records the caller.  An address that does not parse is
// stored as empty.
func clientMeta(c echo.Context) service.ClientMeta {
	var ip string
	if parsed := net.ParseIP(c.RealIP()); parsed != nil {
		ip = parsed.String()
	}
	return service.ClientMeta{IP: ip, UserAgent: c.Request().UserAgent()}
}

// Login: request a magic link.  The answer is the same whether or not the
// address belongs to an account.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := strings.TrimSpace(req.Email)
	if !validEmail(email) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "valid email required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	if err := h.Auth.RequestLogin(ctx, email, clientMeta(c)); err != nil {
		return h.internal(c, "request login", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": loginSentMessage})
}

// Verify: redeem the magic link in the URL and return a token pair.
func (h *AuthHandler) Verify(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.CompleteLogin(ctx, c.Param("token"), clientMeta(c))
	if errors.Is(err, service.ErrInvalidLink) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrInvalidLink.Error()})
	}
	if err != nil {
		return h.internal(c, "complete login", err)
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Refresh: rotate the refresh token and return a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Auth.Refresh(ctx, strings.TrimSpace(req.RefreshToken), clientMeta(c))
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired refresh token"})
	case errors.Is(err, service.ErrAccountDisabled):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrAccountDisabled.Error()})
	case err != nil:
		return h.internal(c, "refresh", err)
	}
	return c.JSON(http.StatusOK, sessionResp(sess))
}

// Logout: revoke the refresh token in the body.  Unknown, revoked and
// missing tokens all succeed.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	_ = c.Bind(&req)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Auth.Logout(ctx, strings.TrimSpace(req.RefreshToken), clientMeta(c)); err != nil {
		return h.internal(c, "logout", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Me: return the authenticated principal.
func (h *AuthHandler) Me(c echo.Context) error {
	p := middleware.PrincipalFrom(c.Request().Context())
	if p == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":          userPart{ID: p.UserID, Email: p.Email, FirstName: p.FirstName, Role: p.Role},
		"token_expires": p.ExpiresAt,
	})
}

// LogoutAll: revoke every refresh token of the authenticated principal.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	p := middleware.PrincipalFrom(c.Request().Context())
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	n, err := h.Auth.LogoutAll(ctx, p, clientMeta(c))
	if errors.Is(err, service.ErrUnauthorized) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err != nil {
		return h.internal(c, "logout all", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

func (h *AuthHandler) internal(c echo.Context, op string, err error) error {
	h.Log.Error(op+" failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func validEmail(s string) bool {
	if s == "" || len(s) > 255 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
