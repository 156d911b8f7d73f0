// Package models defines the server-side domain records.
package models

import (
	"fmt"
	"time"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole validates a role string supplied by a client.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// User is the authoritative directory record. HashedPassword never leaves
// the service layer; outward-facing code works with View.
type User struct {
	ID             int64
	Email          string
	Role           Role
	HashedPassword string
	CreatedAt      time.Time
}

// UserView is the serializable projection of a User, with the password
// digest excluded. Listing snapshots cached in Redis are JSON arrays of
// these.
type UserView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) View() UserView {
	return UserView{ID: u.ID, Email: u.Email, Role: u.Role}
}

// UserUpdate describes a partial update to a user record. Nil fields are
// left unchanged.
type UserUpdate struct {
	Email *string
	Role  *Role
}
