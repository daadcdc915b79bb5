package model

import (
	"database/sql"
	"time"
)

// User represents a user in the system.
type User struct {
	ID           int64          `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	PasswordHash sql.NullString `json:"-"` // empty for OAuth-only accounts
	AvatarURL    sql.NullString `json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// UserProfile is the public view of a user.
type UserProfile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile strips internal fields.
func (u *User) Profile() UserProfile {
	p := UserProfile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
	if u.AvatarURL.Valid {
		p.AvatarURL = u.AvatarURL.String
	}
	return p
}

// HasPassword reports whether the account can sign in with email/password.
func (u *User) HasPassword() bool {
	return u.PasswordHash.Valid && u.PasswordHash.String != ""
}
