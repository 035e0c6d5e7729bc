package model

import (
	"errors"
	"time"
)

// User is a locally registered account.
type User struct {
	ID             string    `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	PasswordHashed string    `db:"password_hashed" json:"-"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	AvatarURL      *string   `db:"avatar_url" json:"avatar_url"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Session returns the identity a signed-in user carries around.
func (u User) Session() SessionUser {
	s := SessionUser{ID: u.ID, DisplayName: u.DisplayName}
	if u.AvatarURL != nil {
		s.AvatarURL = *u.AvatarURL
	}
	return s
}

// SessionUser is the identity of the signed-in viewer.
type SessionUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Name returns the display name, falling back to a generic label.
func (s SessionUser) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return "익명"
}

// RegisterRequest represents the data needed to register a new user
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	DisplayName string `json:"display_name" validate:"required,max=50"`
}

// LoginRequest represents the data needed to log in
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	User        *User  `json:"user"`
}

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailExists is returned when attempting to register a taken email
	ErrEmailExists = errors.New("email already exists")

	// ErrInvalidCredentials is returned when login credentials are incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthenticated is returned when an operation needs a signed-in user
	ErrUnauthenticated = errors.New("sign-in required")

	// ErrInvalidToken is returned when a bearer token cannot be verified
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned for a well-formed but expired token
	ErrTokenExpired = errors.New("token expired")
)

// Error codes for authentication failures
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)
