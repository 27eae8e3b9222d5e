// Package queue defines the auth audit events exchanged over RabbitMQ, the
// publisher used by the auth service and the consumer that files them.
package queue

import "time"

// Audit event names.
const (
	EventMagicLinkRequested    = "magic_link_requested"
	EventMagicLinkUnknownEmail = "magic_link_request_unknown_email"
	EventMagicLinkInactive     = "magic_link_request_inactive_account"
	EventMagicLinkThrottled    = "magic_link_request_throttled"
	EventMagicLinkInvalid      = "magic_link_invalid"
	EventLoginSuccess          = "login_success"
	EventTokenRefreshed        = "token_refreshed"
	EventRefreshRejected       = "refresh_rejected"
	EventLogout                = "logout"
	EventLogoutAll             = "logout_all"
	EventMaintenancePurge      = "maintenance_purge"
)

// AuthEvent is published for every security-relevant step of a login
// session.  It never carries a raw token.
type AuthEvent struct {
	Event      string            `json:"event"`
	UserID     string            `json:"user_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
