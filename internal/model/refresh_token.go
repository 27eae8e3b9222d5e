package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and contains metadata for expiry
// and revocation.  The plain token is not stored; only its
// SHA-256 hash.
type RefreshToken struct {
	ID        string     // refresh_tokens.id
	UserID    string     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	IPAddress string     // refresh_tokens.ip_address
	UserAgent string     // refresh_tokens.user_agent
	CreatedAt time.Time  // refresh_tokens.created_at
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
}
