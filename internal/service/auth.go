package service

import (
	"fmt"
	"time"

	"chippo_portfolio/internal/config"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/model"
)

// AuthService issues access tokens for locally registered users.
type AuthService struct {
	secret string
	maxAge time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		secret: cfg.JWTSecret,
		maxAge: time.Duration(cfg.AccessTokenMaxAge) * time.Second,
	}
}

// Issue signs an access token for user and wraps it in the auth response.
func (s *AuthService) Issue(user *model.User) (*model.AuthResponse, error) {
	token, err := identity.IssueToken(s.secret, user.Session(), s.maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return &model.AuthResponse{
		AccessToken: token,
		ExpiresIn:   int(s.maxAge / time.Second),
		User:        user,
	}, nil
}
