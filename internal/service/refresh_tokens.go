package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/magiclink-auth/internal/model"
	"github.com/iliyamo/magiclink-auth/internal/repository"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

// RefreshTokenRepository is the storage behind RefreshTokenStore.
type RefreshTokenRepository interface {
	StoreRefresh(ctx context.Context, rt model.RefreshToken) error
	Rotate(ctx context.Context, tokenHash string, now time.Time, successor model.RefreshToken) (string, error)
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// RotatedToken is the result of a successful rotation.
type RotatedToken struct {
	Owner     string
	Successor OpaqueToken
}

// RefreshTokenStore issues, rotates and revokes refresh tokens.
type RefreshTokenStore struct {
	repo RefreshTokenRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewRefreshTokenStore(repo RefreshTokenRepository, ttl time.Duration) *RefreshTokenStore {
	return &RefreshTokenStore{repo: repo, ttl: ttl, now: utcNow}
}

func (s *RefreshTokenStore) WithClock(now func() time.Time) *RefreshTokenStore {
	cp := *s
	cp.now = now
	return &cp
}

func (s *RefreshTokenStore) newRecord(owner string, meta ClientMeta) (model.RefreshToken, string, error) {
	raw, err := utils.NewOpaqueToken()
	if err != nil {
		return model.RefreshToken{}, "", fmt.Errorf("generate refresh token: %w", err)
	}
	meta = meta.truncated()
	now := s.now()
	return model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    owner,
		TokenHash: utils.HashToken(raw),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}, raw, nil
}

// Issue stores a new active token for owner.
func (s *RefreshTokenStore) Issue(ctx context.Context, owner string, meta ClientMeta) (OpaqueToken, error) {
	rec, raw, err := s.newRecord(owner, meta)
	if err != nil {
		return OpaqueToken{}, err
	}
	if err := s.repo.StoreRefresh(ctx, rec); err != nil {
		return OpaqueToken{}, err
	}
	return OpaqueToken{Raw: raw, ExpiresAt: rec.ExpiresAt}, nil
}

// RedeemAndRotate revokes raw and issues its successor for the same owner.
// A token that is unknown, revoked or expired yields ErrUnauthorized and no
// successor exists.
func (s *RefreshTokenStore) RedeemAndRotate(ctx context.Context, raw string, meta ClientMeta) (RotatedToken, error) {
	if raw == "" {
		return RotatedToken{}, ErrUnauthorized
	}
	next, nextRaw, err := s.newRecord("", meta)
	if err != nil {
		return RotatedToken{}, err
	}
	owner, err := s.repo.Rotate(ctx, utils.HashToken(raw), s.now(), next)
	if errors.Is(err, repository.ErrNotFound) {
		return RotatedToken{}, ErrUnauthorized
	}
	if err != nil {
		return RotatedToken{}, err
	}
	return RotatedToken{
		Owner:     owner,
		Successor: OpaqueToken{Raw: nextRaw, ExpiresAt: next.ExpiresAt},
	}, nil
}

// Revoke marks raw revoked.  Unknown and already revoked tokens are not an
// error.
func (s *RefreshTokenStore) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.repo.RevokeByHash(ctx, utils.HashToken(raw), s.now())
}

// RevokeAll revokes every active token of owner and returns how many.
func (s *RefreshTokenStore) RevokeAll(ctx context.Context, owner string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, owner, s.now())
}

// Purge deletes tokens that expired or were revoked more than olderThan ago.
func (s *RefreshTokenStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.DeleteStale(ctx, s.now().Add(-olderThan))
}
