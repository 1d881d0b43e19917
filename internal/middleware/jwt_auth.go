package middleware

import (
	"net/http"
	"strings"

	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/tokens"
)

type TokenValidator interface {
	Verify(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
}

func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist) *JWTAuth {
	return &JWTAuth{tokens: t, blacklist: b}
}

// ExtractToken pulls a bearer token from either the Authorization header or
// a ?token= query parameter. The same extraction rule applies uniformly to
// REST requests, stream requests, and the WebSocket upgrade, per spec.md
// §4.1/§9: one verifier, three call sites.
func ExtractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the bearer token and injects AuthContext. It rejects
// with 401 for a missing, malformed, expired, or blacklisted token.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ExtractToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Verify(tokenString)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if m.blacklist != nil {
			blacklisted, err := m.blacklist.IsBlacklisted(r.Context(), claims.ID)
			if err != nil || blacklisted {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		ac := &AuthContext{
			Username:       claims.Username,
			AllowedTenants: claims.AllowedTenants,
			TokenID:        claims.ID,
		}

		ctx := WithAuthContext(r.Context(), ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
