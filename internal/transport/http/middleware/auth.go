package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chippo_portfolio/internal/httputil"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserKey is the context key for the authenticated model.SessionUser
	UserKey contextKey = "user"
)

// AuthMiddleware rejects requests without a valid token.
// Checks the Authorization header first, then falls back to the cookie.
func AuthMiddleware(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				httputil.WriteUnauthorized(w, "Missing authentication token")
				return
			}

			user, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, model.ErrTokenExpired) {
					httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Access token has expired")
					return
				}
				httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Invalid authentication token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is present
// and lets every request through.
func OptionalAuthMiddleware(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := TokenFromRequest(r); token != "" {
				if user, err := verifier.Verify(r.Context(), token); err == nil {
					r = r.WithContext(WithUser(r.Context(), user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest returns the bearer token or the access_token cookie.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func WithUser(ctx context.Context, u model.SessionUser) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

// UserFromContext returns the user set by the auth middlewares.
func UserFromContext(ctx context.Context) (model.SessionUser, bool) {
	u, ok := ctx.Value(UserKey).(model.SessionUser)
	return u, ok
}
