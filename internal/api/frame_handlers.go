package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/technosupport/remotehub/internal/frame"
	"github.com/technosupport/remotehub/internal/viewer"
)

// mjpegBoundary is the multipart boundary advertised in the mjpeg
// endpoint's Content-Type, per spec.md §4.6.
const mjpegBoundary = "frame"

// FrameHandler serves the single-image and multipart MJPEG stream
// endpoints behind the Frame Router (FR) and Viewer Gate (VG). Tenant
// access is enforced upstream by the RequireTenantAccess middleware Router()
// mounts on both routes, not by the handler itself.
type FrameHandler struct {
	Frames       *frame.Router
	Viewers      *viewer.Gate
	TickInterval time.Duration
}

// GET /api/devices/{id}/frame. Tenant access for id is already enforced by
// the RequireTenantAccess middleware mounted on this route in Router().
func (h *FrameHandler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f, err := h.Frames.Latest(id)
	if err != nil {
		if errors.Is(err, frame.ErrNoFrame) {
			respondError(w, http.StatusNotFound, "no frame available")
			return
		}
		respondError(w, http.StatusInternalServerError, "frame lookup failed")
		return
	}

	w.Header().Set("Content-Type", f.Mime)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data)
}

// GET /api/devices/{id}/mjpeg opens a ViewerAttachment: one HTTP response
// that receives one multipart part per tick for as long as the client stays
// connected. Closing the connection closes the attachment and decrements
// the Viewer Gate, per spec.md §4.6/§4.7. Tenant access for id is already
// enforced by the RequireTenantAccess middleware mounted on this route in
// Router().
func (h *FrameHandler) StreamMJPEG(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	tick := h.TickInterval
	if tick <= 0 {
		tick = frame.DefaultMinInterval
	}

	h.Viewers.Open(id)
	defer h.Viewers.Close(id)

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, err := h.Frames.Latest(id)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, f.Mime, len(f.Data)); err != nil {
				return
			}
			if _, err := w.Write(f.Data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
