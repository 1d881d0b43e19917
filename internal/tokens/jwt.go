// Package tokens issues and verifies the bearer tokens shared by the REST,
// WebSocket, and stream surfaces of the Edge.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultTTL matches spec.md's "expire (e.g. 1 h)" guidance.
const DefaultTTL = time.Hour

// Claims carries the admin identity and tenant scope. AllowedTenants may
// contain the wildcard "*" for a master admin.
type Claims struct {
	Username       string   `json:"username"`
	AllowedTenants []string `json:"allowedTenants"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 tokens signed with a single shared
// secret, as called for by spec.md's Auth contract: the same verifier
// services an Authorization header, a stream URL's ?token=, and a WebSocket
// upgrade's ?token=.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey), ttl: DefaultTTL}
}

// Issue mints a token for username scoped to allowedTenants.
func (m *Manager) Issue(username string, allowedTenants []string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username:       username,
		AllowedTenants: allowedTenants,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
			Subject:   username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"
	return token.SignedString(m.signingKey)
}

// Verify parses and validates tokenString, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
