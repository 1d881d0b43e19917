package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/technosupport/remotehub/internal/middleware"
)

func withAuthCtx(r *http.Request, allowed []string) *http.Request {
	ac := &middleware.AuthContext{Username: "adminCLA", AllowedTenants: allowed}
	return r.WithContext(middleware.WithAuthContext(context.Background(), ac))
}

func TestRequireTenantAccessAllows(t *testing.T) {
	resolve := func(r *http.Request) (string, bool) { return "CLA1", true }
	wrapped := middleware.RequireTenantAccess(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withAuthCtx(httptest.NewRequest(http.MethodGet, "/api/devices/dev-42/frame", nil), []string{"CLA1"})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireTenantAccessForbidsOtherTenant(t *testing.T) {
	resolve := func(r *http.Request) (string, bool) { return "DLA1", true }
	wrapped := middleware.RequireTenantAccess(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withAuthCtx(httptest.NewRequest(http.MethodGet, "/api/devices/dev-42/frame", nil), []string{"CLA1"})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireTenantAccessForbidsUnknownDevice(t *testing.T) {
	resolve := func(r *http.Request) (string, bool) { return "", true }
	wrapped := middleware.RequireTenantAccess(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withAuthCtx(httptest.NewRequest(http.MethodGet, "/api/devices/nope/frame", nil), []string{"*"})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireTenantAccessPassesThroughWhenUnscoped(t *testing.T) {
	resolve := func(r *http.Request) (string, bool) { return "", false }
	wrapped := middleware.RequireTenantAccess(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withAuthCtx(httptest.NewRequest(http.MethodGet, "/api/compliance/events", nil), []string{"CLA1"})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "unscoped requests reach the handler, which filters per item itself")
}

func TestRequireTenantAccessRequiresAuthContext(t *testing.T) {
	resolve := func(r *http.Request) (string, bool) { return "CLA1", true }
	wrapped := middleware.RequireTenantAccess(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/devices/dev-42/frame", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
