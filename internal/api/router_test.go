package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/api"
	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/tokens"
)

func TestHealthIsUnauthenticated(t *testing.T) {
	edge := &api.Edge{
		Tokens:  tokens.NewManager("test-secret"),
		JWTAuth: middleware.NewJWTAuth(tokens.NewManager("test-secret"), noopBlacklist{}),
	}
	srv := httptest.NewServer(edge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestUnknownAPIRouteReturnsJSON404(t *testing.T) {
	edge := &api.Edge{
		Tokens:  tokens.NewManager("test-secret"),
		JWTAuth: middleware.NewJWTAuth(tokens.NewManager("test-secret"), noopBlacklist{}),
	}
	srv := httptest.NewServer(edge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestDevicesRouteRejectsMissingBearerToken(t *testing.T) {
	edge := &api.Edge{
		Tokens:  tokens.NewManager("test-secret"),
		JWTAuth: middleware.NewJWTAuth(tokens.NewManager("test-secret"), noopBlacklist{}),
	}
	srv := httptest.NewServer(edge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNonAPIPathWithoutStaticDirIs404(t *testing.T) {
	edge := &api.Edge{
		Tokens:  tokens.NewManager("test-secret"),
		JWTAuth: middleware.NewJWTAuth(tokens.NewManager("test-secret"), noopBlacklist{}),
	}
	srv := httptest.NewServer(edge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/console/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type noopBlacklist struct{}

func (noopBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return false, nil
}

func (noopBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return nil
}

var _ auth.TokenBlacklist = noopBlacklist{}
