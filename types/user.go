package types

import "time"

// Account represents a registered marketplace user.
// It contains identity, profile, and audit metadata.
type Account struct {
	// ID is the opaque unique identifier of the account (a UUID string).
	ID string `json:"id" db:"id"`

	// Email is the account's unique email address. Authentication tokens
	// carry it as their subject.
	Email string `json:"email" db:"email"`

	// FirstName is the account holder's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the account holder's family name.
	LastName string `json:"last_name" db:"last_name"`

	// Avatar is the public path of the uploaded avatar image, if any
	// (e.g. "/uploads/users/<name>.png").
	Avatar string `json:"avatar" db:"avatar"`

	// PasswordHash stores the bcrypt hash of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent profile change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PublicAccount is the password-free view of an Account returned to clients.
type PublicAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Public projects the account onto its client-visible fields.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Avatar:    a.Avatar,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
