package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/magiclink-auth/internal/database"
	"github.com/iliyamo/magiclink-auth/internal/model"
)

// MagicLinkRepo persists magic links.  consumed_at is only ever written by
// Consume.
type MagicLinkRepo struct{ DB *sql.DB }

func NewMagicLinkRepo(db *sql.DB) *MagicLinkRepo { return &MagicLinkRepo{DB: db} }

// Create inserts a new, unconsumed link.
func (r *MagicLinkRepo) Create(ctx context.Context, ml model.MagicLink) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO magic_links (id, user_id, token_hash, ip_address, user_agent, created_at, expires_at)
		 VALUES (?,?,?,?,?,?,?)`,
		ml.ID, ml.UserID, ml.TokenHash, nullString(ml.IPAddress), nullString(ml.UserAgent), ml.CreatedAt, ml.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert magic link: %w", err)
	}
	return nil
}

// Consume marks the link identified by tokenHash as used and returns its
// owner.  The update only matches an unconsumed, unexpired row, so of any
// number of concurrent callers exactly one sees a matched row; the rest get
// ErrNotFound.
func (r *MagicLinkRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := database.WithTx(ctx, r.DB, func(ctx context.Context, tx database.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE magic_links SET consumed_at=?
			 WHERE token_hash=? AND consumed_at IS NULL AND expires_at > ?`,
			now, tokenHash, now)
		if err != nil {
			return fmt.Errorf("consume magic link: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume magic link: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		err = tx.QueryRowContext(ctx,
			"SELECT user_id FROM magic_links WHERE token_hash=? LIMIT 1", tokenHash).Scan(&userID)
		if err != nil {
			return fmt.Errorf("read magic link owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// CountSince returns how many links were issued to userID at or after since.
func (r *MagicLinkRepo) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM magic_links WHERE user_id=? AND created_at >= ?",
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count magic links: %w", err)
	}
	return n, nil
}

// DeleteCreatedBefore removes every link created before cutoff, consumed or
// not, and returns the number of rows deleted.
func (r *MagicLinkRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM magic_links WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge magic links: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
