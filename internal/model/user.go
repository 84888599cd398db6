// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// Role is the flat authorization level of a user.
type Role string

// Role values.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultRole is assigned to every user created through signup.
const DefaultRole = RoleUser

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// MaxFullNameLength is the maximum length of a display name, in runes.
const MaxFullNameLength = 80

// MaxEmailLength is the maximum length of an email address.
const MaxEmailLength = 120

// User is a stored principal. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserUpdate lists the columns to change on a user. Nil fields are left
// untouched. Role is deliberately absent.
type UserUpdate struct {
	FullName     *string
	Email        *string
	PasswordHash *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Email == nil && u.PasswordHash == nil
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToResponse converts a User to UserResponse.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NormalizeEmail trims surrounding whitespace and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
