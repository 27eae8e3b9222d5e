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

// MagicLinkRepository is the storage behind MagicLinkStore.
type MagicLinkRepository interface {
	Create(ctx context.Context, ml model.MagicLink) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MagicLinkStore issues and redeems single-use login links.
type MagicLinkStore struct {
	repo MagicLinkRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewMagicLinkStore returns a store whose links expire ttl after issuance.
func NewMagicLinkStore(repo MagicLinkRepository, ttl time.Duration) *MagicLinkStore {
	return &MagicLinkStore{repo: repo, ttl: ttl, now: utcNow}
}

func (s *MagicLinkStore) WithClock(now func() time.Time) *MagicLinkStore {
	cp := *s
	cp.now = now
	return &cp
}

// Issue creates an unconsumed link for owner and returns the raw token.
// Delivery is the caller's job.
func (s *MagicLinkStore) Issue(ctx context.Context, owner string, meta ClientMeta) (OpaqueToken, error) {
	raw, err := utils.NewOpaqueToken()
	if err != nil {
		return OpaqueToken{}, fmt.Errorf("generate magic link: %w", err)
	}
	meta = meta.truncated()
	now := s.now()
	ml := model.MagicLink{
		ID:        uuid.NewString(),
		UserID:    owner,
		TokenHash: utils.HashToken(raw),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, ml); err != nil {
		return OpaqueToken{}, err
	}
	return OpaqueToken{Raw: raw, ExpiresAt: ml.ExpiresAt}, nil
}

// Redeem consumes the link and returns its owner.  Unknown, consumed and
// expired links all yield ErrInvalidLink; storage failures are returned as
// they are.
func (s *MagicLinkStore) Redeem(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidLink
	}
	owner, err := s.repo.Consume(ctx, utils.HashToken(raw), s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidLink
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

// CountRecent returns how many links owner received within window.
func (s *MagicLinkStore) CountRecent(ctx context.Context, owner string, window time.Duration) (int, error) {
	return s.repo.CountSince(ctx, owner, s.now().Add(-window))
}

// Purge deletes links created more than olderThan ago, consumed or not.
func (s *MagicLinkStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.DeleteCreatedBefore(ctx, s.now().Add(-olderThan))
}
