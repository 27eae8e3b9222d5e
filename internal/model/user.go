package model

import "time"

// Role names stored in users.role and carried in the access token.
const (
	RoleAdmin    = "admin"
	RoleStandard = "standard"
)

// User represents an account record as stored in the `users` table.
// Accounts are provisioned outside this service; login only reads them.
type User struct {
	ID        string    // users.id (uuid)
	Email     string    // users.email, lower-cased
	FirstName string    // users.first_name
	Role      string    // users.role: admin | standard
	IsActive  bool      // users.is_active
	CreatedAt time.Time // users.created_at
	UpdatedAt time.Time // users.updated_at
}
