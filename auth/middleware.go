package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CookieName is the cookie carrying the access token.
const CookieName = "access_token"

type contextKey struct{}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFromContext returns the authenticated claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// UserIDFromContext returns the acting user id or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return 0
}

// TokenFromRequest reads a Bearer header, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token.
func Middleware(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				unauthorized(w, "Not authenticated")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				unauthorized(w, "Could not validate credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireActive reloads the user named by the token and rejects accounts
// deactivated or removed since login. The stored role replaces the role
// carried in the token. Must run after Middleware.
func RequireActive(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, "Not authenticated")
				return
			}
			u, err := svc.CurrentUser(r.Context(), claims)
			switch {
			case errors.Is(err, ErrUserNotFound):
				unauthorized(w, "Could not validate credentials")
				return
			case err != nil:
				svc.logger.Error("loading user for request", zap.Int64("user_id", claims.UserID), zap.Error(err))
				respond(w, http.StatusInternalServerError, "Internal server error")
				return
			case !u.IsActive:
				respond(w, http.StatusForbidden, "Inactive user")
				return
			}

			current := *claims
			current.Role = u.Role
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &current)))
		})
	}
}

// RequireRole allows only the given roles through. Must run after Middleware.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFromContext(r.Context())
			if ok {
				for _, role := range roles {
					if c.Role == role {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			respond(w, http.StatusForbidden, "Not enough permissions")
		})
	}
}

// SetCookie writes the token as an HttpOnly cookie.
func SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the token cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respond(w, http.StatusUnauthorized, msg)
}

func respond(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
