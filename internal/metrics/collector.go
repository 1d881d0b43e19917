// Package metrics exposes the hub's operational gauges and counters over
// Prometheus, following the teacher's registry-per-process, ticker-driven
// collector shape.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source supplies the point-in-time counts the collector polls on each
// tick. cmd/server's metricsSource implements it by combining the session
// registry's connection counts with the viewer gate's attachment total.
type Source interface {
	ConnectedAgents() int
	ConnectedAdmins() int
	ViewerAttachments() int
}

// Collector owns the registry and both the polled gauges and the
// event-driven counters updated inline by the Frame Router and Presence
// Monitor.
type Collector struct {
	source   Source
	registry *prometheus.Registry

	mu           sync.RWMutex
	lastSnapshot time.Time

	connectedAgents   prometheus.Gauge
	connectedAdmins   prometheus.Gauge
	viewerAttachments prometheus.Gauge
	snapshotAge       prometheus.Gauge

	framesAccepted      *prometheus.CounterVec
	framesThrottled     *prometheus.CounterVec
	presenceTransitions *prometheus.CounterVec
	consentDecisions    *prometheus.CounterVec
}

func NewCollector(source Source) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{source: source, registry: reg}

	c.connectedAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connected_agents",
		Help: "Number of agents currently connected.",
	})
	reg.MustRegister(c.connectedAgents)

	c.connectedAdmins = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connected_admins",
		Help: "Number of admins currently connected.",
	})
	reg.MustRegister(c.connectedAdmins)

	c.viewerAttachments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_viewer_attachments",
		Help: "Number of open mjpeg viewer streams across all devices.",
	})
	reg.MustRegister(c.viewerAttachments)

	c.snapshotAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_metrics_snapshot_age_seconds",
		Help: "Age of the last successful collector tick.",
	})
	reg.MustRegister(c.snapshotAge)

	c.framesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_frames_accepted_total",
		Help: "Frames accepted by the Frame Router, by device.",
	}, []string{"device_id"})
	reg.MustRegister(c.framesAccepted)

	c.framesThrottled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_frames_throttled_total",
		Help: "Frames dropped by the Frame Router's minimum-interval throttle, by device.",
	}, []string{"device_id"})
	reg.MustRegister(c.framesThrottled)

	c.presenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_presence_transitions_total",
		Help: "Device presence transitions, by direction (online/offline).",
	}, []string{"direction"})
	reg.MustRegister(c.presenceTransitions)

	c.consentDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_consent_decisions_total",
		Help: "Consent responses, by outcome (accepted/declined/offline).",
	}, []string{"outcome"})
	reg.MustRegister(c.consentDecisions)

	return c
}

// Start polls Source every 2s until ctx is canceled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) collect() {
	c.connectedAgents.Set(float64(c.source.ConnectedAgents()))
	c.connectedAdmins.Set(float64(c.source.ConnectedAdmins()))
	c.viewerAttachments.Set(float64(c.source.ViewerAttachments()))

	c.mu.Lock()
	c.lastSnapshot = time.Now()
	c.mu.Unlock()
	c.snapshotAge.Set(0)
}

// IncFrameAccepted records one frame the Frame Router accepted for deviceID.
func (c *Collector) IncFrameAccepted(deviceID string) {
	c.framesAccepted.WithLabelValues(deviceID).Inc()
}

// IncFrameThrottled records one frame the Frame Router dropped for arriving
// inside the minimum-interval window.
func (c *Collector) IncFrameThrottled(deviceID string) {
	c.framesThrottled.WithLabelValues(deviceID).Inc()
}

// IncPresenceTransition records one online/offline flip from the Presence
// Monitor or an agent connect/disconnect.
func (c *Collector) IncPresenceTransition(direction string) {
	c.presenceTransitions.WithLabelValues(direction).Inc()
}

// IncConsentDecision records one consent_response outcome.
func (c *Collector) IncConsentDecision(outcome string) {
	c.consentDecisions.WithLabelValues(outcome).Inc()
}
