package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/tokens"
)

// AuthHandler implements POST /api/login, spec.md §6.1's only unauthenticated
// write endpoint, plus POST /api/logout.
type AuthHandler struct {
	Service *auth.Service
	Tokens  *tokens.Manager
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginUser struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	AllowedTenants []string `json:"allowedTenants"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, admin, err := h.Service.Issue(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: loginUser{
			ID:             admin.Username,
			Username:       admin.Username,
			AllowedTenants: admin.AllowedTenants,
		},
	})
}

// Logout revokes the bearer token presented on this request for the
// remainder of its natural lifetime, so it stops verifying immediately
// rather than at its 1h expiry.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	tokenString := middleware.ExtractToken(r)
	claims, err := h.Tokens.Verify(tokenString)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	remaining := int64(time.Until(claims.ExpiresAt.Time).Seconds())
	if err := h.Service.Logout(r.Context(), ac.TokenID, remaining); err != nil {
		respondError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
