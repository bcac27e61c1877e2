// Package models defines the core data structures for the personal-data API.
//
// This package contains the entities described by the domain model: User,
// Stream, Event, Access and Session (audit records live in internal/audit).
// Struct tags follow a consistent convention: `json` for wire encoding, `db`
// for the local Postgres store (internal/db).
package models

import "time"

// User is a multi-tenant account: a unique immutable userId, a unique
// case-insensitive username, and the set of fields mirrored by SystemStreams.
//
// SECURITY: every Mall/Storage call is scoped by userId; there is no
// cross-user query surface anywhere in this package.
type User struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
	Language string `json:"language" db:"language"`

	// CustomFields holds the optional unique/indexed account fields declared
	// as non-built-in SystemStreams (see internal/systemstreams).
	CustomFields map[string]string `json:"customFields,omitempty" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// PasswordHash is never serialized; bcrypt, cost 10, see internal/auth/tokenhash.go.
	PasswordHash string `json:"-" db:"password_hash"`
}

// RegisterUserRequest is the input to user registration.
type RegisterUserRequest struct {
	Username string            `json:"username" binding:"required" validate:"required,username"`
	Email    string            `json:"email" binding:"required,email" validate:"required,email"`
	Password string            `json:"password" binding:"required" validate:"required,password"`
	Language string            `json:"language,omitempty" validate:"omitempty,len=2"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// UpdateAccountRequest carries a partial update to the account's system-stream-backed fields.
type UpdateAccountRequest struct {
	Email    *string           `json:"email,omitempty" validate:"omitempty,email"`
	Language *string           `json:"language,omitempty" validate:"omitempty,len=2"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// PasswordHistoryEntry is one prior password hash kept so
// UserDB.IsPasswordReused can detect password reuse. Persisted in
// UserAccountStorage, unique on (userId, time).
type PasswordHistoryEntry struct {
	UserID       string    `db:"user_id"`
	PasswordHash string    `db:"password_hash"`
	Time         time.Time `db:"time"`
}
