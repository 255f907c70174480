// Package auth implements admin authentication for the REST API: a single
// operator identity declared in the config file, verified against an
// Argon2id password hash and issued RS256-signed access tokens. There is
// no user table and no registration; this server belongs to the operator
// who deployed it.
package auth

import (
	"time"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// Token is an issued access token with its expiry, returned to the client
// at login.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service is the entry point for all authentication operations.
// The REST API layer depends on Service, never on the JWTManager directly.
type Service struct {
	cfg config.Auth
	jwt *JWTManager
}

// NewService creates a Service for the configured admin identity.
func NewService(cfg config.Auth, jwt *JWTManager) *Service {
	return &Service{cfg: cfg, jwt: jwt}
}

// Login verifies the admin credentials and issues an access token.
// Always returns ErrInvalidCredentials on mismatch; it never reveals
// whether the email or the password was wrong.
func (s *Service) Login(email, password string) (*Token, error) {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPasswordHash == "" {
		return nil, ErrAuthDisabled
	}
	if email != s.cfg.AdminEmail || !verifyPassword(password, s.cfg.AdminPasswordHash) {
		return nil, ErrInvalidCredentials
	}

	signed, expiresAt, err := s.jwt.GenerateAccessToken(email, "admin")
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

// Enabled reports whether admin credentials are configured. When false the
// API runs unauthenticated, which is only sensible on a loopback bind.
func (s *Service) Enabled() bool {
	return s.cfg.AdminEmail != "" && s.cfg.AdminPasswordHash != ""
}

// ValidateAccessToken parses and verifies a JWT access token.
// Used by the HTTP middleware to authenticate incoming requests.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.jwt.ValidateAccessToken(tokenString)
}

// JWTManager exposes the underlying JWTManager for cases where the caller
// needs direct access, e.g. to serve a JWKS endpoint.
func (s *Service) JWTManager() *JWTManager {
	return s.jwt
}
