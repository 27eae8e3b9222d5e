package service

import (
	"time"
	"unicode/utf8"

	"github.com/iliyamo/magiclink-auth/internal/model"
)

// ClientMeta describes the client presenting a request.  It is stored next
// to issued tokens and copied into audit events.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Column widths of ip_address and user_agent.
const (
	maxIPAddress = 45
	maxUserAgent = 500
)

// truncated fits m into the token tables.  An IP longer than any textual
// address is dropped rather than cut.
func (m ClientMeta) truncated() ClientMeta {
	if len(m.IP) > maxIPAddress {
		m.IP = ""
	}
	if utf8.RuneCountInString(m.UserAgent) > maxUserAgent {
		m.UserAgent = string([]rune(m.UserAgent)[:maxUserAgent])
	}
	return m
}

// OpaqueToken is a freshly minted magic-link or refresh token.  Raw is shown
// to the client once and never stored.
type OpaqueToken struct {
	Raw       string
	ExpiresAt time.Time
}

// Session is the credential pair handed out on login and on refresh.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             model.User
}

// Principal is the authenticated caller of one request.  Role is the
// account's current role, reloaded on every request.
type Principal struct {
	UserID    string
	Email     string
	FirstName string
	Role      string
	ExpiresAt time.Time // access token expiry
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func utcNow() time.Time { return time.Now().UTC() }
