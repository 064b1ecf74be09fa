package model

import "time"

// Role is the authorization role carried by a user and by their tokens.
type Role string

const (
	// RoleUser may browse screenings and reserve tickets.
	RoleUser Role = "user"
	// RoleManager maintains the screening schedule.
	RoleManager Role = "manager"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleManager
}

// User represents an application user record.  Users are created at
// registration and are not mutated afterwards.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login name.
//  Email        – contact address.
//  PasswordHash – bcrypt hashed password.
//  Role         – user or manager.
//  CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
