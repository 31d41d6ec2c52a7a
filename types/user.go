package types

import "time"

// Role is an authorization attribute attached to a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultRole is assigned when no role was requested or stored.
const DefaultRole = RoleUser

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the repository-assigned identifier of the user.
	ID string `json:"id"`

	// Email is the user's email address. It is unique and compared as stored.
	Email string `json:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// It is empty until a password has been set and is never exposed in API responses.
	PasswordHash string `json:"-"`

	// IsVerified reports whether the email address was confirmed with an OTP.
	IsVerified bool `json:"isVerified"`

	// Role indicates the user's authorization level (e.g., "admin", "user").
	Role Role `json:"role"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt"`

	// LastLoginAt is the timestamp of the most recent successful sign-in or sign-up.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// EffectiveRole returns the stored role or DefaultRole when none is set.
func (u User) EffectiveRole() Role {
	if u.Role == "" {
		return DefaultRole
	}
	return u.Role
}

// UserSummary is the public projection of a user returned with tokens.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Summary projects the user into a UserSummary.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, Role: u.EffectiveRole()}
}

// UserPatch carries optional changes for a partial user update.
type UserPatch struct {
	Email        *string
	PasswordHash *string
	IsVerified   *bool
}

// Apply copies the non-nil fields of p onto u.
func (u *User) Apply(p UserPatch) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
}
