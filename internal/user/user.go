// Package user manages accounts, bans, and one-shot password tokens.
package user

import (
	"time"

	"github.com/google/uuid"
)

// Role is the account privilege level.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// User holds the core identity fields read from the database.
type User struct {
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// IsAdmin reports whether the account has admin privileges.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsModerator reports whether the account can moderate content. Admins
// moderate implicitly.
func (u *User) IsModerator() bool { return u.Role == RoleModerator || u.Role == RoleAdmin }

// Credentials extends User with the password hash. Only the repository method
// serving the authentication path returns this type; all other read methods
// return *User to prevent credential leakage at the type level.
type Credentials struct {
	User
	PasswordHash string
}

// BannedAccount records a banned username and the email it was registered
// with, so the email can be refused for new accounts.
type BannedAccount struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	BannedAt time.Time `json:"bannedAt"`
}

// CreateParams groups the inputs for creating a new account.
type CreateParams struct {
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	GroupID      *uuid.UUID
}
