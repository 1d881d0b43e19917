// Package frame implements the Frame Router (FR): it holds the latest JPEG
// per device, applies a minimum-interval throttle, and hands viewers a
// consistent snapshot to fan out. Storage is a pointer swap under a short
// lock, per spec.md §9's "frame fan-out without copies" design note.
package frame

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNoFrame is returned by Latest when a device has never produced a frame.
var ErrNoFrame = errors.New("no frame available")

// DefaultMinInterval matches spec.md §4.6's ~4 fps throttle.
const DefaultMinInterval = 250 * time.Millisecond

// DefaultMime is assumed for both wire forms absent other information.
const DefaultMime = "image/jpeg"

// Frame is one immutable accepted image; viewers hold a reference to the
// value current at tick time rather than copying bytes.
type Frame struct {
	Data []byte
	Mime string
	At   int64 // epoch ms
}

// Metrics receives frame accept/throttle counters. internal/metrics.Collector
// satisfies it.
type Metrics interface {
	IncFrameAccepted(deviceID string)
	IncFrameThrottled(deviceID string)
}

// Activity is notified whenever a frame is accepted for a device, so the
// caller can bump Device.lastSeen the same way a heartbeat would.
type Activity interface {
	Touch(deviceID string, atMillis int64, agentVersion string)
}

// Logger records a throttled frame to the operational log. internal/store.Store
// satisfies it.
type Logger interface {
	AppendLog(level, msg string, meta map[string]any)
}

// Router owns the per-device (lastFrame, lastFrameAt) pair. Exactly one
// producer (an agent's receive loop) writes a given device's entry at a
// time; reads take a short lock and return a reference to the current Frame.
type Router struct {
	mu          sync.Mutex
	frames      map[string]*Frame
	minInterval time.Duration
	metrics     Metrics
	activity    Activity
	logs        Logger
}

func NewRouter(minInterval time.Duration, metrics Metrics, activity Activity, logs Logger) *Router {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Router{
		frames:      make(map[string]*Frame),
		minInterval: minInterval,
		metrics:     metrics,
		activity:    activity,
		logs:        logs,
	}
}

// jsonFrame is the compat wire form: {"type":"frame"|"screen_frame",
// "jpegBase64"|"jpeg": "<raw base64 or data: URL>"}.
type jsonFrame struct {
	Type       string `json:"type"`
	JpegBase64 string `json:"jpegBase64"`
	Jpeg       string `json:"jpeg"`
}

// AcceptBinary stores data (the full binary WebSocket payload) as device's
// latest frame, subject to the minimum-interval throttle. It returns true if
// the frame was accepted.
func (r *Router) AcceptBinary(deviceID string, data []byte) bool {
	return r.accept(deviceID, data, DefaultMime)
}

// AcceptJSON decodes the compat JSON wire form and stores the resulting
// bytes, subject to the same throttle. data:image/jpeg;base64, URLs and raw
// base64 payloads decode to identical bytes.
func (r *Router) AcceptJSON(deviceID string, raw []byte) (bool, error) {
	var jf jsonFrame
	if err := json.Unmarshal(raw, &jf); err != nil {
		return false, fmt.Errorf("decode json frame: %w", err)
	}
	encoded := jf.JpegBase64
	if encoded == "" {
		encoded = jf.Jpeg
	}
	if idx := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && idx >= 0 {
		encoded = encoded[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, fmt.Errorf("decode base64 frame: %w", err)
	}
	return r.accept(deviceID, data, DefaultMime), nil
}

func (r *Router) accept(deviceID string, data []byte, mime string) bool {
	now := time.Now().UnixMilli()

	r.mu.Lock()
	prev, ok := r.frames[deviceID]
	if ok && now-prev.At < r.minInterval.Milliseconds() {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.IncFrameThrottled(deviceID)
		}
		if r.logs != nil {
			r.logs.AppendLog("debug", "frame throttled", map[string]any{"deviceId": deviceID, "sinceLastMs": now - prev.At})
		}
		return false
	}
	r.frames[deviceID] = &Frame{Data: data, Mime: mime, At: now}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncFrameAccepted(deviceID)
	}
	if r.activity != nil {
		r.activity.Touch(deviceID, now, "")
	}
	return true
}

// Latest returns the current frame for deviceID, or ErrNoFrame if none has
// ever been accepted.
func (r *Router) Latest(deviceID string) (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.frames[deviceID]
	if !ok {
		return nil, ErrNoFrame
	}
	return f, nil
}
