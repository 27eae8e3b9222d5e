package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/middleware"
	"github.com/iliyamo/magiclink-auth/internal/model"
	"github.com/iliyamo/magiclink-auth/internal/service"
)

type stubFlow struct {
	requested  []string
	meta       service.ClientMeta
	requestErr error
	sessions   map[string]*service.Session
	refreshErr error
	logoutErr  error
	loggedOut  []string
	revoked    int64
}

func (s *stubFlow) RequestLogin(_ context.Context, email string, meta service.ClientMeta) error {
	s.requested = append(s.requested, email)
	s.meta = meta
	return s.requestErr
}

func (s *stubFlow) CompleteLogin(_ context.Context, token string, _ service.ClientMeta) (*service.Session, error) {
	if token == "boom" {
		return nil, errors.New("db down")
	}
	if sess, ok := s.sessions[token]; ok {
		delete(s.sessions, token)
		return sess, nil
	}
	return nil, service.ErrInvalidLink
}

func (s *stubFlow) Refresh(_ context.Context, token string, _ service.ClientMeta) (*service.Session, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.sessions[token], nil
}

func (s *stubFlow) Logout(_ context.Context, token string, _ service.ClientMeta) error {
	s.loggedOut = append(s.loggedOut, token)
	return s.logoutErr
}

func (s *stubFlow) LogoutAll(_ context.Context, p *service.Principal, _ service.ClientMeta) (int64, error) {
	if p == nil {
		return 0, service.ErrUnauthorized
	}
	return s.revoked, nil
}

var exp = time.Date(2026, 7, 1, 10, 15, 0, 0, time.UTC)

func aliceSession() *service.Session {
	return &service.Session{
		AccessToken:      "a1",
		AccessExpiresAt:  exp,
		RefreshToken:     "r1",
		RefreshExpiresAt: exp.Add(7 * 24 * time.Hour),
		User:             model.User{ID: "u-alice", Email: "alice@example.com", Role: model.RoleStandard},
	}
}

func serve(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func newServer(flow *stubFlow) *echo.Echo {
	h := NewAuthHandler(flow, zap.NewNop())
	e := echo.New()
	e.POST("/auth/login", h.Login)
	e.GET("/auth/verify/:token", h.Verify)
	e.POST("/auth/refresh", h.Refresh)
	e.POST("/auth/logout", h.Logout)
	e.GET("/v1/me", h.Me)
	e.POST("/v1/logout-all", h.LogoutAll)
	return e
}

func TestLogin_UniformMessage(t *testing.T) {
	flow := &stubFlow{}
	e := newServer(flow)

	rec, body := serve(e, http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, loginSentMessage, body["message"])
	assert.Equal(t, []string{"alice@example.com"}, flow.requested)

	for _, bad := range []string{`{"email":""}`, `{"email":"not-an-email"}`, `{"email":"Alice <a@b.c>"}`, `{`} {
		rec, _ := serve(e, http.MethodPost, "/auth/login", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	flow.requestErr = errors.New("db down")
	rec, body = serve(e, http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
}

func TestLogin_ClientAddressIsNormalized(t *testing.T) {
	flow := &stubFlow{}
	e := newServer(flow)

	for fwd, want := range map[string]string{
		strings.Repeat("x", 80): "",
		"::ffff:198.51.100.3":   "198.51.100.3",
		"2001:DB8::1":           "2001:db8::1",
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"alice@example.com"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderXForwardedFor, fwd)
		req.Header.Set("User-Agent", "curl/8")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, flow.meta.IP, fwd)
		assert.Equal(t, "curl/8", flow.meta.UserAgent)
	}
}

func TestVerify(t *testing.T) {
	flow := &stubFlow{sessions: map[string]*service.Session{"t1": aliceSession()}}
	e := newServer(flow)

	rec, body := serve(e, http.MethodGet, "/auth/verify/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "a1", body["access"].(map[string]any)["token"])
	assert.Equal(t, "r1", body["refresh"].(map[string]any)["token"])

	rec, body = serve(e, http.MethodGet, "/auth/verify/t1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or expired link", body["error"])

	rec, _ = serve(e, http.MethodGet, "/auth/verify/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefresh(t *testing.T) {
	flow := &stubFlow{sessions: map[string]*service.Session{"r1": aliceSession()}}
	e := newServer(flow)

	rec, _ := serve(e, http.MethodPost, "/auth/refresh", `{"refresh_token":"r1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(e, http.MethodPost, "/auth/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for err, want := range map[error]int{
		service.ErrUnauthorized:    http.StatusUnauthorized,
		service.ErrAccountDisabled: http.StatusUnauthorized,
		errors.New("db down"):      http.StatusInternalServerError,
	} {
		flow.refreshErr = err
		rec, _ := serve(e, http.MethodPost, "/auth/refresh", `{"refresh_token":"r1"}`)
		assert.Equal(t, want, rec.Code, err.Error())
	}
}

func TestLogout_AlwaysSucceedsForTheClient(t *testing.T) {
	flow := &stubFlow{}
	e := newServer(flow)

	for _, body := range []string{`{"refresh_token":"r1"}`, `{"refresh_token":"never-issued"}`, `{}`, ``} {
		rec, out := serve(e, http.MethodPost, "/auth/logout", body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, "logged out", out["message"])
	}

	flow.logoutErr = errors.New("db down")
	rec, _ := serve(e, http.MethodPost, "/auth/logout", `{"refresh_token":"r1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMeAndLogoutAllReadPrincipalFromContext(t *testing.T) {
	flow := &stubFlow{revoked: 2}
	h := NewAuthHandler(flow, zap.NewNop())
	e := echo.New()
	withPrincipal := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &service.Principal{UserID: "u-alice", Email: "alice@example.com", Role: model.RoleStandard, ExpiresAt: exp}
			c.SetRequest(c.Request().WithContext(middleware.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
	e.GET("/v1/me", h.Me, withPrincipal)
	e.POST("/v1/logout-all", h.LogoutAll, withPrincipal)
	e.GET("/anon/me", h.Me)

	rec, body := serve(e, http.MethodGet, "/v1/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-alice", body["user"].(map[string]any)["id"])

	rec, body = serve(e, http.MethodPost, "/v1/logout-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["revoked"])

	rec, _ = serve(e, http.MethodGet, "/anon/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubRunner struct{ err error }

func (r stubRunner) Run(_ context.Context, task string) (service.PurgeReport, error) {
	if r.err != nil {
		return service.PurgeReport{}, r.err
	}
	if task != service.TaskAll && task != service.TaskCleanupTokens {
		return service.PurgeReport{}, service.ErrUnknownTask
	}
	return service.PurgeReport{Task: task, MagicLinksDeleted: 3, RefreshTokensDeleted: 4}, nil
}

func TestMaintenancePurge(t *testing.T) {
	e := echo.New()
	e.POST("/purge", NewMaintenanceHandler(stubRunner{}, zap.NewNop()).Purge)

	rec, body := serve(e, http.MethodPost, "/purge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", body["task"])
	assert.EqualValues(t, 3, body["magic_links_deleted"])

	rec, _ = serve(e, http.MethodPost, "/purge?task=vacuum", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e2 := echo.New()
	e2.POST("/purge", NewMaintenanceHandler(stubRunner{err: errors.New("db down")}, zap.NewNop()).Purge)
	rec, _ = serve(e2, http.MethodPost, "/purge", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealthAndReady(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", Health)
	e.GET("/ok", Ready(pinger{}))
	e.GET("/down", Ready(pinger{err: errors.New("down")}))

	rec, _ := serve(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", rec.Body.String())
	rec, _ = serve(e, http.MethodGet, "/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = serve(e, http.MethodGet, "/down", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
