// Package model defines the data structures used throughout the application.
//
// WIRE SHAPE vs STORAGE SHAPE:
// These structs mirror the database rows. They deliberately carry no json tags:
// every endpoint builds its own response struct in the handler package
// (see handler/projection.go), so adding a column can never leak a field such as
// PasswordHash into an API response by accident.
package model

import "time"

// User represents a registered user account.
//
// WHY ID int64?
// IDs are assigned by the store (INTEGER PRIMARY KEY / BIGSERIAL) and are
// ascending, which gives the directory endpoints their natural "ORDER BY id".
//
// WHY LastLogin *time.Time?
// A user who registered but never logged in has no last-login time. A nil
// pointer maps cleanly to SQL NULL and to JSON null.
type User struct {
	ID           int64
	Username     string // unique, immutable after creation
	Email        string // may be empty; uniqueness is only checked on profile update
	FirstName    string
	LastName     string
	PasswordHash string // bcrypt output, never returned to clients
	IsActive     bool
	IsStaff      bool // admin tier
	DateJoined   time.Time
	LastLogin    *time.Time
}

// Attributes returns the personal attributes the password policy compares a
// password against, keyed by their human-readable names.
func (u *User) Attributes() map[string]string {
	return map[string]string{
		"username":      u.Username,
		"first name":    u.FirstName,
		"last name":     u.LastName,
		"email address": u.Email,
	}
}
