package middleware

import (
	"net/http"

	"github.com/technosupport/remotehub/internal/tenant"
)

// RequireTenantAccess wraps next so it only runs if the authenticated admin
// (injected earlier by JWTAuth) is allowed to see the device resolved by
// resolveDeviceTenant. resolveDeviceTenant reports (tenant, scoped): scoped
// false means the request is not pinned to one device (e.g. a list endpoint
// whose ?deviceId= filter was omitted), so the check is skipped and the
// handler's own per-item tenant filtering applies; scoped true enforces
// tenant.CanAccessDevice, which denies an unknown device (empty tenant) the
// same way every other call site does.
func RequireTenantAccess(resolveDeviceTenant func(r *http.Request) (tenant string, scoped bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := GetAuthContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			deviceTenant, scoped := resolveDeviceTenant(r)
			if scoped && !tenant.CanAccessDevice(ac.AllowedTenants, deviceTenant) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
