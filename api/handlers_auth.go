package api

import (
	"net/http"

	"github.com/warp/retail-engine/auth"
	"go.uber.org/zap"
)

// Login checks credentials, returns the token and sets it as a cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, token, expires, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.Logger.Info("login rejected", zap.String("username", req.Username), zap.Error(err))
		h.writeError(w, r, err)
		return
	}

	auth.SetCookie(w, token, expires, h.SecureCookies)
	writeJSON(w, http.StatusOK, TokenDTO{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expires,
		User:        toUserDTO(u),
	}, "Login successful")
}

// Logout clears the auth cookie. Bearer tokens simply expire.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, nil, "Logged out")
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	u, err := h.Auth.CurrentUser(r.Context(), claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u), "")
}
