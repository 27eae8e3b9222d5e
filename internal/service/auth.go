// Package service holds the magic-link login flow: the single-use link
// store, the rotating refresh-token store and the AuthService tying them to
// access tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/mail"
	"github.com/iliyamo/magiclink-auth/internal/model"
	"github.com/iliyamo/magiclink-auth/internal/queue"
	"github.com/iliyamo/magiclink-auth/internal/repository"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

// UserRepository reads accounts.  Accounts are provisioned elsewhere.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
}

// AuthConfig holds the login-request policy.
type AuthConfig struct {
	AppURL             string // base of the emailed link
	LoginRequestCap    int    // links per account per window
	LoginRequestWindow time.Duration
	UniformDelayMin    time.Duration // every login request lasts at least a
	UniformDelayMax    time.Duration // random duration in [min, max]
	MailTimeout        time.Duration // per delivery, default 30s
}

const defaultMailTimeout = 30 * time.Second

// AuthService drives a login session from link request to logout.
type AuthService struct {
	users   UserRepository
	links   *MagicLinkStore
	refresh *RefreshTokenStore
	codec   *utils.AccessCodec
	mailer  mail.Sender
	audit   queue.Publisher
	log     *zap.Logger
	cfg     AuthConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
	spawn func(fn func())

	pending sync.WaitGroup
}

func NewAuthService(
	users UserRepository,
	links *MagicLinkStore,
	refresh *RefreshTokenStore,
	codec *utils.AccessCodec,
	mailer mail.Sender,
	audit queue.Publisher,
	cfg AuthConfig,
	log *zap.Logger,
) *AuthService {
	if audit == nil {
		audit = queue.NopPublisher{}
	}
	s := &AuthService{
		users:   users,
		links:   links,
		refresh: refresh,
		codec:   codec,
		mailer:  mailer,
		audit:   audit,
		log:     log,
		cfg:     cfg,
		now:     utcNow,
		sleep:   sleepCtx,
	}
	s.spawn = s.background
	return s
}

// RequestLogin emails a magic link to email when it names an active account
// that is under its request cap.  The result is nil for unknown, inactive
// and capped accounts alike, and every call is padded to a random duration,
// so callers cannot tell which case applied.  The mail is sent in the
// background.  Only storage failures are returned; delivery failures are
// logged.
func (s *AuthService) RequestLogin(ctx context.Context, email string, meta ClientMeta) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if pad := s.drawDelay(); pad > 0 {
		start := s.now()
		defer func() { s.sleep(ctx, pad-s.now().Sub(start)) }()
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Info("login requested for unknown email")
		s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkUnknownEmail, Email: email}, meta)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if !u.IsActive {
		s.log.Info("login requested for inactive account", zap.String("user_id", u.ID))
		s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkInactive, UserID: u.ID, Email: email}, meta)
		return nil
	}

	if s.cfg.LoginRequestCap > 0 {
		n, err := s.links.CountRecent(ctx, u.ID, s.cfg.LoginRequestWindow)
		if err != nil {
			return fmt.Errorf("count recent links: %w", err)
		}
		if n >= s.cfg.LoginRequestCap {
			s.log.Info("login request over cap", zap.String("user_id", u.ID), zap.Int("recent", n))
			s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkThrottled, UserID: u.ID, Email: email}, meta)
			return nil
		}
	}

	tok, err := s.links.Issue(ctx, u.ID, meta)
	if err != nil {
		return fmt.Errorf("issue magic link: %w", err)
	}
	s.deliver(ctx, u, s.cfg.AppURL+"/auth/verify/"+tok.Raw)
	s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkRequested, UserID: u.ID, Email: email}, meta)
	return nil
}

// CompleteLogin redeems a magic link and opens a session.  Every failure to
// redeem, including a disabled account, is ErrInvalidLink.
func (s *AuthService) CompleteLogin(ctx context.Context, token string, meta ClientMeta) (*Session, error) {
	owner, err := s.links.Redeem(ctx, token)
	if errors.Is(err, ErrInvalidLink) {
		s.log.Info("magic link rejected", zap.String("token_prefix", utils.TokenPrefix(token)))
		s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkInvalid}, meta)
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("redeem magic link: %w", err)
	}

	u, err := s.users.GetByID(ctx, owner)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		s.log.Info("magic link redeemed for disabled account", zap.String("user_id", owner))
		s.emit(ctx, queue.AuthEvent{Event: queue.EventMagicLinkInvalid, UserID: owner,
			Details: map[string]string{"reason": "account disabled"}}, meta)
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	refresh, err := s.refresh.Issue(ctx, u.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	sess, err := s.session(u, refresh)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, queue.AuthEvent{Event: queue.EventLoginSuccess, UserID: u.ID, Email: u.Email}, meta)
	return sess, nil
}

// Authenticate verifies an access token and reloads its account.  Token
// failures are ErrUnauthorized; a missing or inactive account is
// ErrAccountDisabled, so deactivation takes effect on the next request.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			s.log.Debug("access token expired")
		} else {
			s.log.Info("access token rejected", zap.Error(err))
		}
		return nil, ErrUnauthorized
	}

	u, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountDisabled
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	return &Principal{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		Role:      u.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new pair.  The presented token is
// dead afterwards whatever the outcome.  When the account has been disabled
// the successor is revoked immediately and ErrAccountDisabled is returned.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*Session, error) {
	rot, err := s.refresh.RedeemAndRotate(ctx, refreshToken, meta)
	if errors.Is(err, ErrUnauthorized) {
		s.log.Info("refresh token rejected", zap.String("token_prefix", utils.TokenPrefix(refreshToken)))
		s.emit(ctx, queue.AuthEvent{Event: queue.EventRefreshRejected}, meta)
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	u, err := s.users.GetByID(ctx, rot.Owner)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		if rerr := s.refresh.Revoke(ctx, rot.Successor.Raw); rerr != nil {
			return nil, fmt.Errorf("revoke successor: %w", rerr)
		}
		return nil, ErrAccountDisabled
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	sess, err := s.session(u, rot.Successor)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, queue.AuthEvent{Event: queue.EventTokenRefreshed, UserID: u.ID}, meta)
	return sess, nil
}

// Logout revokes the refresh token.  It never reports an invalid token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta ClientMeta) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.refresh.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Event: queue.EventLogout}, meta)
	return nil
}

// LogoutAll revokes every refresh token of the principal.
func (s *AuthService) LogoutAll(ctx context.Context, p *Principal, meta ClientMeta) (int64, error) {
	if p == nil {
		return 0, ErrUnauthorized
	}
	n, err := s.refresh.RevokeAll(ctx, p.UserID)
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Event: queue.EventLogoutAll, UserID: p.UserID,
		Details: map[string]string{"revoked": fmt.Sprint(n)}}, meta)
	return n, nil
}

// Authorize checks a principal against roles.  No principal is
// ErrUnauthorized, never ErrForbidden.
func Authorize(p *Principal, roles ...string) error {
	if p == nil {
		return ErrUnauthorized
	}
	if !p.HasRole(roles...) {
		return ErrForbidden
	}
	return nil
}

func (s *AuthService) session(u model.User, refresh OpaqueToken) (*Session, error) {
	access, err := s.codec.Issue(u.ID, u.Role, u.Email)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Session{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.Exp,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             u,
	}, nil
}

// emit publishes an audit event.  Failures are logged and otherwise ignored.
func (s *AuthService) emit(ctx context.Context, ev queue.AuthEvent, meta ClientMeta) {
	meta = meta.truncated()
	ev.IP = meta.IP
	ev.UserAgent = meta.UserAgent
	ev.OccurredAt = s.now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.audit.Publish(pctx, ev); err != nil {
		s.log.Warn("audit publish failed", zap.String("event", ev.Event), zap.Error(err))
	}
}

// deliver mails link to u without holding up the request.  The delivery
// outlives the request context but not MailTimeout.
func (s *AuthService) deliver(ctx context.Context, u model.User, link string) {
	timeout := s.cfg.MailTimeout
	if timeout <= 0 {
		timeout = defaultMailTimeout
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	s.spawn(func() {
		defer cancel()
		if err := s.mailer.SendMagicLink(mctx, u.Email, link); err != nil {
			s.log.Error("magic link delivery failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	})
}

func (s *AuthService) background(fn func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

// Wait blocks until background mail deliveries have finished or ctx ends.
func (s *AuthService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drawDelay picks the duration a login request is padded to.
func (s *AuthService) drawDelay() time.Duration {
	lo, hi := s.cfg.UniformDelayMin, s.cfg.UniformDelayMax
	if hi <= 0 {
		return 0
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int63n(int64(hi - lo + 1)))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
