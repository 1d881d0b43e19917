// Package events publishes best-effort copies of presence transitions and
// compliance events to NATS subjects for external SIEM/monitoring
// consumption, grounded in the teacher's nvr.NATSPublisher connect-or-warn
// shape. A publish failure is logged and never surfaced to the caller — it
// must never affect the hub's own request/response or broadcast paths.
package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/technosupport/remotehub/internal/store"
)

const (
	DefaultComplianceSubject = "hub.compliance"
	DefaultPresenceSubject   = "hub.presence"
)

// PresenceEvent is the wire shape published to DefaultPresenceSubject.
type PresenceEvent struct {
	DeviceID  string `json:"deviceId"`
	Online    bool   `json:"online"`
	Tenant    string `json:"tenant"`
	Timestamp int64  `json:"timestamp"`
}

// ComplianceEvent mirrors store.ComplianceEvent for external consumers that
// should not import the hub's internal store package.
type ComplianceEvent struct {
	ID         string   `json:"id"`
	DeviceID   string   `json:"deviceId"`
	Author     string   `json:"author"`
	Context    string   `json:"context"`
	Timestamp  int64    `json:"timestamp"`
	Content    string   `json:"content"`
	Matches    []string `json:"matches"`
	Severity   string   `json:"severity,omitempty"`
	Suspicious bool     `json:"suspicious"`
}

// Publisher fans out presence and compliance events to NATS, exactly in the
// fire-and-forget, never-fatal style of the teacher's NATS wiring in
// cmd/server/main.go.
type Publisher struct {
	conn              *nats.Conn
	complianceSubject string
	presenceSubject   string
	maxRetries        int
}

// Connect dials url and returns a Publisher, or nil with the dial error if
// NATS is unreachable. The caller is expected to warn and continue rather
// than treat this as fatal, per spec.md's "non-fatal if unreachable"
// requirement for this subsystem.
func Connect(url string, maxRetries int) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("remotehub"))
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn:              conn,
		complianceSubject: DefaultComplianceSubject,
		presenceSubject:   DefaultPresenceSubject,
		maxRetries:        maxRetries,
	}, nil
}

func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

// PublishPresence implements internal/hub.EventPublisher.
func (p *Publisher) PublishPresence(deviceID string, online bool, tenantID string) {
	if p == nil {
		return
	}
	p.publish(p.presenceSubject, PresenceEvent{
		DeviceID:  deviceID,
		Online:    online,
		Tenant:    tenantID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishCompliance fans out one compliance event, called by the Store's
// caller right after a successful AppendCompliance.
func (p *Publisher) PublishCompliance(evt store.ComplianceEvent) {
	if p == nil {
		return
	}
	p.publish(p.complianceSubject, ComplianceEvent{
		ID:         evt.ID,
		DeviceID:   evt.DeviceID,
		Author:     evt.Author,
		Context:    evt.Context,
		Timestamp:  evt.Timestamp,
		Content:    evt.Content,
		Matches:    evt.Matches,
		Severity:   string(evt.Severity),
		Suspicious: evt.Suspicious,
	})
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("events: marshal for subject %s: %v", subject, err)
		return
	}

	var pubErr error
	for i := 0; i <= p.maxRetries; i++ {
		if pubErr = p.conn.Publish(subject, data); pubErr == nil {
			return
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	log.Printf("events: publish to %s failed after retries: %v", subject, pubErr)
}
