package types

import "time"

// Roles a user account can hold. Admins manage the catalog; everyone
// else is a regular shopper.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a shop account.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, used for login. Unique.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the shop
	// ("admin" or "user").
	Role string `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Identity is the authenticated caller as established by the access
// guard. It is built exactly once, by the auth middleware, from a verified
// bearer token and threaded through the request context; nothing
// downstream re-verifies or reconstructs it.
type Identity struct {
	// UserID is the account id the credential was issued for.
	UserID int

	// Role is the role claim carried by the credential.
	Role string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
