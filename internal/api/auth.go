package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/auth"
)

// AuthHandler groups the authentication HTTP handlers.
// It depends on auth.Service as the single entry point for all auth
// operations.
type AuthHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.Named("auth_handler"),
	}
}

// loginRequest is the JSON body expected by POST /api/v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the JSON body returned on successful login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

// Login handles POST /api/v1/auth/login.
// Authenticates the configured admin via email/password and returns an
// access token. There is no refresh flow; when the token expires the
// client logs in again.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		ErrBadRequest(w, "email and password are required")
		return
	}

	token, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAuthDisabled) {
			// Both map to 401 so a probe cannot tell whether auth is
			// configured at all.
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.logger.Info("admin logged in", zap.String("remote_addr", r.RemoteAddr))
	Ok(w, loginResponse{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Me handles GET /api/v1/auth/me. Returns the identity baked into the
// presented token; useful for clients restoring a session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromCtx(r.Context())
	if claims == nil {
		ErrUnauthorized(w)
		return
	}
	Ok(w, map[string]string{
		"email": claims.Email,
		"role":  claims.Role,
	})
}
