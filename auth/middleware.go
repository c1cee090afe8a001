package auth

import (
	"context"
	"net/http"
	"strings"
)

// Role hierarchy: owner > admin > user.
var roleLevels = map[string]int{
	"owner": 3,
	"admin": 2,
	"user":  1,
}

// HasRole reports whether userRole meets the required level.
func HasRole(userRole, requiredRole string) bool {
	return roleLevels[userRole] >= roleLevels[requiredRole]
}

// SessionVerifier checks that the session nonce inside a token still
// matches the one stored on the user record, so a login elsewhere kicks
// the old session.
type SessionVerifier interface {
	VerifySession(userID, sessionToken string) error
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the authenticated claims injected by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// Middleware wraps an http.Handler with token authentication. The token is
// read from the Authorization header ("Bearer <token>"), a token cookie, or
// a token query parameter -- the last one is what the WebSocket upgrade
// request uses, since browsers cannot set headers there.
func Middleware(issuer *TokenIssuer, sessions SessionVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := issuer.Validate(tokenString)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		if err := sessions.VerifySession(claims.UserID, claims.SessionToken); err != nil {
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole guards a handler behind a minimum role. Must run inside
// Middleware so claims are present.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !HasRole(claims.Role, role) {
			http.Error(w, "insufficient permissions", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
