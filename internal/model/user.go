// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account.
//
// Email is stored normalized (trimmed, lower-cased) so uniqueness holds
// regardless of how the user typed it. PasswordHash carries the bcrypt hash
// and is tagged json:"-" so no response can ever serialize it.
type User struct {
	ID           string    `json:"id"        db:"id"` // UUID v4
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the subset of User that is safe to return to clients.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Public strips everything but the identity fields.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username}
}
