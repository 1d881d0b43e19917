package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tenant"
)

// DeviceHandler serves the device, log, alias, compliance, and health REST
// endpoints. The device, alias, and compliance handlers consult Tenant
// Policy before revealing anything, per spec.md §4.2; ListLogs returns the
// whole ring buffer and Health returns no device data, so neither filters
// by tenant.
type DeviceHandler struct {
	Store *store.Store
}

// GET /api/devices
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	views := h.Store.DeviceViews(func(t string) bool { return tenant.CanAccessTenant(ac.AllowedTenants, t) })
	respondJSON(w, http.StatusOK, views)
}

// GET /api/logs
func (h *DeviceHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Store.ListLogs())
}

// GET /api/device-aliases
func (h *DeviceHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	out := make(map[string]store.Alias)
	for id, alias := range h.Store.ListAliases() {
		dev, known := h.Store.GetDevice(id)
		devTenant := ""
		if known {
			devTenant = dev.Tenant
		}
		if tenant.CanAccessDevice(ac.AllowedTenants, devTenant) {
			out[id] = alias
		}
	}
	respondJSON(w, http.StatusOK, out)
}

type putAliasRequest struct {
	Label *string `json:"label"`
}

type putAliasResponse struct {
	OK        bool   `json:"ok"`
	DeviceID  string `json:"deviceId"`
	Label     string `json:"label"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PUT /api/device-aliases/{id}. Tenant access for id is already enforced by
// the RequireTenantAccess middleware mounted on this route in Router().
func (h *DeviceHandler) PutAlias(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req putAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == nil {
		respondError(w, http.StatusBadRequest, "label field is required")
		return
	}

	alias, err := h.Store.PutAlias(id, *req.Label)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist alias")
		return
	}
	respondJSON(w, http.StatusOK, putAliasResponse{OK: true, DeviceID: id, Label: alias.Label, UpdatedAt: alias.UpdatedAt})
}

// GET /api/compliance/events?deviceId=... . When deviceId is given, the
// RequireTenantAccess middleware mounted on this route in Router() has
// already enforced access to it; when omitted, the request is unscoped and
// this handler filters the full event list by tenant itself.
func (h *DeviceHandler) ListCompliance(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deviceID := r.URL.Query().Get("deviceId")
	events := h.Store.ListCompliance(deviceID)
	if deviceID != "" {
		respondJSON(w, http.StatusOK, events)
		return
	}

	out := make([]store.ComplianceEvent, 0, len(events))
	for _, e := range events {
		dev, known := h.Store.GetDevice(e.DeviceID)
		devTenant := ""
		if known {
			devTenant = dev.Tenant
		}
		if tenant.CanAccessDevice(ac.AllowedTenants, devTenant) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	respondJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	OK bool  `json:"ok"`
	TS int64 `json:"ts"`
}

// GET /api/health
func (h *DeviceHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{OK: true, TS: time.Now().UnixMilli()})
}
