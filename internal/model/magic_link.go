package model

import "time"

// MagicLink models a row in the `magic_links` table.  Only the SHA-256
// hash of the emailed token is stored.  ConsumedAt is set exactly once, by
// the conditional update in the repository.
type MagicLink struct {
	ID         string     // magic_links.id
	UserID     string     // magic_links.user_id
	TokenHash  string     // magic_links.token_hash
	IPAddress  string     // magic_links.ip_address
	UserAgent  string     // magic_links.user_agent
	CreatedAt  time.Time  // magic_links.created_at
	ExpiresAt  time.Time  // magic_links.expires_at
	ConsumedAt *time.Time // magic_links.consumed_at (nullable)
}
