package middleware

import (
	"context"
)

type contextKey string

const AuthContextKey contextKey = "auth_context"

// AuthContext holds the authenticated admin's identity and tenant grants,
// attached to the request context by JWTAuth.
type AuthContext struct {
	Username       string
	AllowedTenants []string
	TokenID        string // jti
}

// GetAuthContext retrieves the AuthContext from ctx.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches ac to ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}
