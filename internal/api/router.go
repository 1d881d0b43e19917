package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/remotehub/internal/auth"
	"github.com/technosupport/remotehub/internal/compliance"
	"github.com/technosupport/remotehub/internal/consent"
	"github.com/technosupport/remotehub/internal/frame"
	"github.com/technosupport/remotehub/internal/hub"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/platform/paths"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tokens"
	"github.com/technosupport/remotehub/internal/viewer"
)

// Edge wires together every REST, stream, and WebSocket handler this
// package exposes, following the teacher's NewXHandler-per-subsystem
// construction style.
type Edge struct {
	Store         *store.Store
	Registry      *hub.Registry
	Frames        *frame.Router
	Viewers       *viewer.Gate
	Consent       *consent.Coordinator
	Compliance    *compliance.Ingester
	AuthService   *auth.Service
	Tokens        *tokens.Manager
	DefaultTenant string
	StaticDir     string

	JWTAuth        *middleware.JWTAuth
	RateLimit      *middleware.RateLimitMiddleware
	MetricsHandler http.Handler
}

// Router assembles the chi.Mux for the whole Edge surface: public routes,
// bearer-authenticated REST routes, the role-dispatching WS upgrade at "/",
// and (when StaticDir is present) the admin console's SPA files.
func (e *Edge) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)
	if e.RateLimit != nil {
		r.Use(e.RateLimit.GlobalLimiter)
	}

	devices := &DeviceHandler{Store: e.Store}
	authHandler := &AuthHandler{Service: e.AuthService, Tokens: e.Tokens}
	frames := &FrameHandler{Frames: e.Frames, Viewers: e.Viewers, TickInterval: 250 * time.Millisecond}
	ws := &WSHandler{Store: e.Store, Registry: e.Registry, Frames: e.Frames, Consent: e.Consent, Compliance: e.Compliance, Tokens: e.Tokens, DefaultTenant: e.DefaultTenant}

	r.Get("/api/health", devices.Health)
	if e.MetricsHandler != nil {
		r.Handle("/metrics", e.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if e.RateLimit != nil {
			r.Use(e.RateLimit.LoginLimiter)
		}
		r.Post("/api/login", authHandler.Login)
	})

	byPathID := middleware.RequireTenantAccess(func(r *http.Request) (string, bool) {
		dev, _ := e.Store.GetDevice(chi.URLParam(r, "id"))
		return dev.Tenant, true
	})
	byOptionalDeviceIDQuery := middleware.RequireTenantAccess(func(r *http.Request) (string, bool) {
		id := r.URL.Query().Get("deviceId")
		if id == "" {
			return "", false
		}
		dev, _ := e.Store.GetDevice(id)
		return dev.Tenant, true
	})

	r.Group(func(r chi.Router) {
		r.Use(e.JWTAuth.Middleware)
		r.Post("/api/logout", authHandler.Logout)
		r.Get("/api/devices", devices.ListDevices)
		r.Get("/api/logs", devices.ListLogs)
		r.Get("/api/device-aliases", devices.ListAliases)
		r.With(byPathID).Put("/api/device-aliases/{id}", devices.PutAlias)
		r.With(byOptionalDeviceIDQuery).Get("/api/compliance/events", devices.ListCompliance)
		r.With(byPathID).Get("/api/devices/{id}/frame", frames.GetFrame)
		r.With(byPathID).Get("/api/devices/{id}/mjpeg", frames.StreamMJPEG)
	})

	r.NotFound(e.notFound(ws))
	return r
}

// notFound handles every path chi couldn't match against a registered
// route. "/" is where the WebSocket upgrade lives (it is dispatched by
// query parameter, not by an HTTP method chi can register against), so it
// is special-cased here ahead of the API/static split.
func (e *Edge) notFound(ws *WSHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Header.Get("Upgrade") != "" {
			ws.Serve(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error":  "API route not found",
				"method": r.Method,
				"path":   r.URL.Path,
			})
			return
		}

		e.serveStatic(w, r)
	}
}

// serveStatic serves the admin console's files from StaticDir when present,
// falling back to index.html for any unmatched non-API path (the SPA
// client-side router owns the rest). A missing StaticDir degrades to a
// plain 404, since the admin web UI is an external collaborator
// (spec.md §1 Non-goals). The request path is joined onto StaticDir via
// paths.SafeJoin rather than a bare filepath.Join, so a path like
// "/../../etc/passwd" can never escape StaticDir.
func (e *Edge) serveStatic(w http.ResponseWriter, r *http.Request) {
	if e.StaticDir == "" {
		http.NotFound(w, r)
		return
	}

	if requested, err := paths.SafeJoin(e.StaticDir, strings.TrimPrefix(r.URL.Path, "/")); err == nil {
		if info, statErr := os.Stat(requested); statErr == nil && !info.IsDir() {
			http.ServeFile(w, r, requested)
			return
		}
	}

	index := filepath.Join(e.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, index)
}
