package model

import "time"

// User is a Google account connected to the app.
type User struct {
	ID           int        `json:"id"`
	GoogleID     string     `json:"google_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Picture      string     `json:"picture"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasCredentials reports whether both tokens are present.
func (u *User) HasCredentials() bool {
	return u.AccessToken != "" && u.RefreshToken != ""
}

// TokenExpired reports whether the access token is expired at now.
// A missing expiry is treated as valid.
func (u *User) TokenExpired(now time.Time) bool {
	return u.TokenExpiry != nil && !u.TokenExpiry.After(now)
}

// TokenSet is the result of an OAuth exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	Expiry       time.Time
}
