package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/magiclink-auth/internal/database"
	"github.com/iliyamo/magiclink-auth/internal/model"
)

// TokenRepo persists refresh tokens (single 'token_hash' column).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const insertRefresh = `INSERT INTO refresh_tokens (id, user_id, token_hash, ip_address, user_agent, created_at, expires_at)
 VALUES (?,?,?,?,?,?,?)`

// StoreRefresh inserts an active refresh token row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, rt model.RefreshToken) error {
	return storeRefresh(ctx, r.DB, rt)
}

func storeRefresh(ctx context.Context, db database.DBTX, rt model.RefreshToken) error {
	_, err := db.ExecContext(ctx, insertRefresh,
		rt.ID, rt.UserID, rt.TokenHash, nullString(rt.IPAddress), nullString(rt.UserAgent), rt.CreatedAt, rt.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Rotate revokes the active token identified by tokenHash and stores
// successor for the same owner, in one transaction.  successor.UserID is
// filled from the revoked row.  A token that is unknown, revoked or expired
// yields ErrNotFound and nothing is written.
func (r *TokenRepo) Rotate(ctx context.Context, tokenHash string, now time.Time, successor model.RefreshToken) (string, error) {
	var userID string
	err := database.WithTx(ctx, r.DB, func(ctx context.Context, tx database.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked_at=?
			 WHERE token_hash=? AND revoked_at IS NULL AND expires_at > ?`,
			now, tokenHash, now)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT user_id FROM refresh_tokens WHERE token_hash=? LIMIT 1", tokenHash).Scan(&userID); err != nil {
			return fmt.Errorf("read refresh token owner: %w", err)
		}
		successor.UserID = userID
		return storeRefresh(ctx, tx, successor)
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// RevokeByHash marks a token as revoked.  Revoking an unknown or already
// revoked token is not an error.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE token_hash=? AND revoked_at IS NULL",
		now, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL",
		now, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStale removes tokens that expired or were revoked before cutoff.
func (r *TokenRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)",
		cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
