package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientInfo identifies the device a request came from. It is recorded on
// refresh sessions and audit entries.
type ClientInfo struct {
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	ClientInfo
}

// RefreshTokenRequest exchanges a refresh token for a new session.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	ClientInfo
}

// LogoutRequest ends the session owning the refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	ClientInfo
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
	ClientInfo
}

// CreateUserRequest is used by administrators to open an account. The
// matching profile is created alongside the user.
type CreateUserRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=6"`
	FullName  string   `json:"full_name" validate:"required,max=120"`
	Role      UserRole `json:"role" validate:"required,role"`
	ClassName string   `json:"class_name" validate:"omitempty,max=40"`
}

// SessionUser is the signed-in member as the portal shows them: account
// fields plus the profile's display name, class and avatar.
type SessionUser struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
	ClassName   *string  `json:"class_name,omitempty"`
	AvatarURL   *string  `json:"avatar_url,omitempty"`
}

// Session is returned by login and refresh.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
	IssuedAt     time.Time   `json:"issued_at"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	DisplayName string   `json:"display_name,omitempty"`
	ClassName   string   `json:"class_name,omitempty"`
	jwt.RegisteredClaims
}
